// Package naming derives canonical names from a validated descriptor.
package naming

import (
	"fmt"

	"github.com/angariumd/intake/internal/validator"
)

// JobName returns job-{type}-{id}, with -{index} appended for class jobs
// that carry an index.
func JobName(d *validator.Descriptor) string {
	if d.Type == "cls" && validator.Truthy(d.Index) {
		return fmt.Sprintf("job-%s-%s-%v", d.Type, d.ID, d.Index)
	}
	return fmt.Sprintf("job-%s-%s", d.Type, d.ID)
}

// UserDirName returns {type}-{id}.
func UserDirName(d *validator.Descriptor) string {
	return d.Type + "-" + d.ID
}
