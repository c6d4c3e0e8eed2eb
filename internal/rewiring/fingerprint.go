package rewiring

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/detbox-dev/detbox/internal/code"
	"github.com/detbox-dev/detbox/internal/rules"
)

// Fingerprint identifies a rule set: the namespace prefix and the ordered
// types of every rule, provider and emitter. Emitters must already be in
// application order.
func Fingerprint(prefix string, rs []rules.Rule, ps []code.DefinitionProvider, es []code.Emitter) string {
	h := blake3.New()
	_, _ = fmt.Fprintf(h, "prefix %s\n", prefix)
	for _, r := range rs {
		_, _ = fmt.Fprintf(h, "rule %T\n", r)
	}
	for _, p := range ps {
		_, _ = fmt.Fprintf(h, "provider %T\n", p)
	}
	for _, e := range es {
		_, _ = fmt.Fprintf(h, "emitter %T %d\n", e, e.Priority())
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
