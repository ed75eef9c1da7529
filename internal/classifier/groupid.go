package classifier

import (
	"crypto/sha256"

	"github.com/google/uuid"
)

var groupNamespace = uuid.MustParse("0b7e6f2d-3c41-4a8e-9f15-8d2c7a9e4b30")

// GroupID returns the id of the group titled title by classifier. Ids are
// name-based UUIDs over a SHA-256 digest, so every instance converges on the
// same id for the same group.
func GroupID(classifier, title string) string {
	return uuid.NewHash(sha256.New(), groupNamespace, []byte(classifier+title), 8).String()
}

// LegacyGroupID returns the MD5 based id older deployments handed out. It is
// stored next to memberships for lookups and never used as a primary id.
func LegacyGroupID(classifier, title string) string {
	return uuid.NewMD5(groupNamespace, []byte(classifier+title)).String()
}

func IsLegacyGroupID(id string) bool {
	u, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return u.Version() == 3
}
