package message

import (
	"strings"

	"github.com/google/uuid"
)

const syntheticDomain = "synthetic.invalid"

var syntheticNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:mailcore:message-id"))

// SyntheticMessageID derives a stable Message-ID for a message that has
// none. The same uid and account always produce the same value. It is only
// unique within that account and folder and must not be treated as global.
func SyntheticMessageID(uid, account string) string {
	name := strings.ToLower(strings.TrimSpace(account)) + "|" + strings.TrimSpace(uid)
	return "<" + uuid.NewSHA1(syntheticNamespace, []byte(name)).String() + "@" + syntheticDomain + ">"
}

// IsSynthetic reports whether id was produced by SyntheticMessageID
func IsSynthetic(id string) bool {
	return strings.HasSuffix(id, "@"+syntheticDomain+">")
}
