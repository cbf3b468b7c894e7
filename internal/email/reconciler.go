package email

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/pkg/types"
)

// Mailbox is the part of a Session the reconciler drives
type Mailbox interface {
	Connect() error
	Disconnect() error
	ListEnvelopes(folder string, limit int) ([]types.Envelope, error)
	FetchContent(folder, uid string) (*types.Message, error)
}

var _ Mailbox = (*Session)(nil)

// Reconciler compares a folder's newest envelopes against what the caller
// already stores and reports new messages and read-flag changes. It holds
// no state between runs; persisting the result is up to the caller.
type Reconciler struct {
	logger *logrus.Logger
	limit  int
	now    func() time.Time
}

// ReconcilerOption configures a Reconciler
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger sets the reconciler logger
func WithReconcilerLogger(logger *logrus.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLimit sets how many of the newest messages one run examines
func WithLimit(limit int) ReconcilerOption {
	return func(r *Reconciler) {
		if limit > 0 {
			r.limit = limit
		}
	}
}

// NewReconciler creates a reconciler
func NewReconciler(opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		logger: logrus.StandardLogger(),
		limit:  config.DefaultSyncLimit,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sync reconciles one folder. A connection or selection failure returns an
// error and no result. Individual messages that fail are counted in Failed
// and never abort the run. When ctx is cancelled between messages the
// partial result is returned together with ctx.Err().
func (r *Reconciler) Sync(ctx context.Context, mb Mailbox, account, folder string, known types.KnownMessages) (*types.SyncResult, error) {
	if folder == "" {
		folder = config.DefaultFolder
	}
	log := r.logger.WithFields(logrus.Fields{
		"account": account,
		"folder":  folder,
	})

	if err := mb.Connect(); err != nil {
		return nil, err
	}
	defer func() {
		if err := mb.Disconnect(); err != nil {
			log.WithError(err).Debug("Disconnect after sync failed")
		}
	}()

	envelopes, err := mb.ListEnvelopes(folder, r.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list envelopes: %w", err)
	}

	result := &types.SyncResult{
		Account: account,
		Folder:  folder,
		New:     []types.Message{},
		Updated: []types.ReadUpdate{},
	}
	seen := make(map[string]bool, len(envelopes))

	for i := range envelopes {
		if err := ctx.Err(); err != nil {
			r.finish(result)
			log.WithField("processed", len(seen)).Info("Sync cancelled")
			return result, err
		}

		env := envelopes[i]
		if seen[env.MessageID] {
			log.WithFields(logrus.Fields{
				"uid":        env.UID,
				"message_id": env.MessageID,
			}).Debug("Skipping duplicate Message-ID")
			continue
		}
		seen[env.MessageID] = true

		if err := r.reconcile(mb, folder, env, known, result); err != nil {
			result.Failed++
			log.WithError(err).WithField("uid", env.UID).Warn("Failed to reconcile message")
		}
	}

	r.finish(result)
	log.WithFields(logrus.Fields{
		"new":     result.NewCount,
		"updated": result.UpdatedCount,
		"failed":  result.Failed,
	}).Info("Folder synced")
	return result, nil
}

// reconcile handles one envelope. Panics are turned into errors so one bad
// message cannot end the run.
func (r *Reconciler) reconcile(mb Mailbox, folder string, env types.Envelope, known types.KnownMessages, result *types.SyncResult) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while reconciling uid %s: %v", env.UID, rec)
		}
	}()

	if read, ok := known[env.MessageID]; ok {
		if read != env.Read {
			result.Updated = append(result.Updated, types.ReadUpdate{
				MessageID: env.MessageID,
				UID:       env.UID,
				Read:      env.Read,
			})
		}
		return nil
	}

	msg, err := mb.FetchContent(folder, env.UID)
	if err != nil {
		if IsConnectivity(err) {
			return err
		}
		r.logger.WithError(err).WithFields(logrus.Fields{
			"folder": folder,
			"uid":    env.UID,
		}).Warn("Content fetch failed, storing envelope only")
		result.New = append(result.New, envelopeOnly(env))
		return nil
	}

	// the envelope listing is authoritative for identity and flags
	msg.Envelope.UID = env.UID
	msg.Envelope.Folder = env.Folder
	msg.Envelope.MessageID = env.MessageID
	msg.Envelope.Synthetic = env.Synthetic
	msg.Envelope.Read = env.Read
	result.New = append(result.New, *msg)
	return nil
}

func envelopeOnly(env types.Envelope) types.Message {
	return types.Message{Envelope: env}
}

func (r *Reconciler) finish(result *types.SyncResult) {
	result.NewCount = len(result.New)
	result.UpdatedCount = len(result.Updated)
	result.SyncedAt = r.now()
}
