package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/email"
	"github.com/brandon/mailcore/internal/message"
	"github.com/brandon/mailcore/pkg/types"
)

// print writes v as JSON when --json is set, otherwise calls human
func (a *app) print(cmd *cobra.Command, v interface{}, human func(w io.Writer)) error {
	if a.jsonOut {
		return writeJSON(cmd.OutOrStdout(), v)
	}
	human(cmd.OutOrStdout())
	return nil
}

func (a *app) testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Check the IMAP and SMTP connections of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withManager(func(mgr *email.Manager) error {
				report, err := mgr.TestConnection(cmd.Context(), a.account)
				if err != nil {
					return err
				}
				if err := a.print(cmd, report, func(w io.Writer) {
					fmt.Fprintf(w, "account %s\n", report.Account)
					fmt.Fprintf(w, "  imap: %s\n", probeLine(report.IMAP))
					fmt.Fprintf(w, "  smtp: %s\n", probeLine(report.SMTP))
				}); err != nil {
					return err
				}
				if !report.IMAP.OK || !report.SMTP.OK {
					return fmt.Errorf("connection test failed for %s", report.Account)
				}
				return nil
			})
		},
	}
}

func probeLine(p email.ProbeResult) string {
	if p.OK {
		return "ok"
	}
	return "failed: " + p.Error
}

func (a *app) foldersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "folders",
		Short: "List the folders of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withManager(func(mgr *email.Manager) error {
				folders, err := mgr.ListFolders(a.account)
				if err != nil {
					return err
				}
				return a.print(cmd, folders, func(w io.Writer) {
					for _, f := range folders {
						fmt.Fprintln(w, f)
					}
				})
			})
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list [folder]",
		Short: "List the newest messages of a folder (default INBOX)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := optionalFolder(args)
			return a.withManager(func(mgr *email.Manager) error {
				envelopes, err := mgr.ListEnvelopes(a.account, folder, limit)
				if err != nil {
					return err
				}
				return a.print(cmd, envelopes, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintf(tw, "UID\tDate\tFrom\tSubject\n")
					for _, env := range envelopes {
						mark := " "
						if !env.Read {
							mark = "*"
						}
						fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\n",
							mark, env.UID,
							env.Date.Local().Format("2006-01-02 15:04"),
							truncate(env.From.String(), 32),
							truncate(env.Subject, 60),
						)
					}
					tw.Flush()
				})
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of messages")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <folder> <uid>",
		Short: "Print one message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(mgr *email.Manager) error {
				msg, err := mgr.FetchContent(a.account, args[0], args[1])
				if err != nil {
					return err
				}
				return a.print(cmd, msg, func(w io.Writer) { printMessage(w, msg) })
			})
		},
	}
}

func printMessage(w io.Writer, msg *types.Message) {
	fmt.Fprintf(w, "Message-ID: %s\n", msg.MessageID)
	fmt.Fprintf(w, "Date: %s\n", msg.Date.Format(time.RFC1123Z))
	fmt.Fprintf(w, "From: %s\n", msg.From.String())
	if len(msg.To) > 0 {
		fmt.Fprintf(w, "To: %s\n", message.FormatAddressList(msg.To))
	}
	if len(msg.Cc) > 0 {
		fmt.Fprintf(w, "Cc: %s\n", message.FormatAddressList(msg.Cc))
	}
	fmt.Fprintf(w, "Subject: %s\n", msg.Subject)
	for _, att := range msg.Attachments {
		fmt.Fprintf(w, "Attachment: %s (%s, %d bytes)\n", att.Filename, att.ContentType, att.Size)
	}
	fmt.Fprintln(w)

	body := msg.BodyText
	if body == "" {
		body = msg.BodyHTML
	}
	fmt.Fprintln(w, body)
}

func (a *app) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [folder]",
		Short: "Sync one folder, or every folder, into the local cache",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var folder string
			if len(args) == 1 {
				folder = args[0]
			}
			return a.withManager(func(mgr *email.Manager) error {
				results, err := mgr.SyncAccount(cmd.Context(), a.account, folder)
				if perr := a.print(cmd, results, func(w io.Writer) {
					for _, res := range results {
						fmt.Fprintf(w, "%s/%s: %d new, %d updated, %d failed\n",
							res.Account, res.Folder, res.NewCount, res.UpdatedCount, res.Failed)
					}
				}); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func (a *app) readCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "read <folder> <uid>",
		Short: "Mark a message as read, or unread with --unread",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(mgr *email.Manager) error {
				if err := mgr.SetRead(a.account, args[0], args[1], !unread); err != nil {
					return err
				}
				return a.done(cmd, map[string]interface{}{"folder": args[0], "uid": args[1], "read": !unread})
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "mark as unread instead")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <folder> <uid>",
		Short: "Permanently delete a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(mgr *email.Manager) error {
				if err := mgr.Delete(a.account, args[0], args[1]); err != nil {
					return err
				}
				return a.done(cmd, map[string]interface{}{"folder": args[0], "uid": args[1], "deleted": true})
			})
		},
	}
}

func (a *app) sendCmd() *cobra.Command {
	var (
		to, cc, bcc []string
		subject     string
		text, html  string
		attach      []string
		replyToID   string
		forwardID   string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message, a reply (--reply-to-id) or a forward (--forward)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if replyToID != "" && forwardID != "" {
				return fmt.Errorf("--reply-to-id and --forward are mutually exclusive")
			}

			c := message.Compose{
				Subject:     subject,
				BodyText:    text,
				BodyHTML:    html,
				Attachments: attach,
			}
			var err error
			if c.To, err = message.ParseAddresses(strings.Join(to, ", ")); err != nil {
				return err
			}
			if c.Cc, err = message.ParseAddresses(strings.Join(cc, ", ")); err != nil {
				return err
			}
			if c.Bcc, err = message.ParseAddresses(strings.Join(bcc, ", ")); err != nil {
				return err
			}

			return a.withManager(func(mgr *email.Manager) error {
				var id string
				var err error
				switch {
				case replyToID != "":
					id, err = mgr.SendReply(cmd.Context(), a.account, replyToID, c)
				case forwardID != "" || cmd.Flags().Changed("forward"):
					id, err = mgr.SendForward(cmd.Context(), a.account, forwardID, c)
				default:
					id, err = mgr.Send(cmd.Context(), a.account, c)
				}
				if err != nil {
					return err
				}
				return a.done(cmd, map[string]interface{}{"message_id": id})
			})
		},
	}
	cmd.Flags().StringSliceVar(&to, "to", nil, "recipient (repeatable)")
	cmd.Flags().StringSliceVar(&cc, "cc", nil, "cc recipient (repeatable)")
	cmd.Flags().StringSliceVar(&bcc, "bcc", nil, "bcc recipient (repeatable)")
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "subject")
	cmd.Flags().StringVar(&text, "text", "", "plain text body")
	cmd.Flags().StringVar(&html, "html", "", "HTML body")
	cmd.Flags().StringSliceVar(&attach, "attach", nil, "file to attach (repeatable)")
	cmd.Flags().StringVar(&replyToID, "reply-to-id", "", "Message-ID of the message being answered")
	cmd.Flags().StringVar(&forwardID, "forward", "", "Message-ID of a cached message to forward")
	return cmd
}

// done reports a successful mutation
func (a *app) done(cmd *cobra.Command, fields map[string]interface{}) error {
	fields["success"] = true
	return a.print(cmd, fields, func(w io.Writer) {
		fmt.Fprintln(w, "ok")
	})
}

func optionalFolder(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return config.DefaultFolder
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
