package broadcaster

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/goevery/livefeed/internal/notification"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"
)

// Each generated op encodes an action in its parity and an id in the rest:
// even registers, odd unregisters.
func TestProperty_MembershipMatchesNetEffect(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("membership equals the net effect of register/unregister", prop.ForAll(
		func(ops []int) bool {
			registry := NewInMemoryRegistry(zap.NewNop())
			model := make(map[string]bool)

			for _, op := range ops {
				id := fmt.Sprintf("conn-%d", op/2)

				if op%2 == 0 {
					err := registry.Register(id, &recordingChannel{})
					if model[id] != (err != nil) {
						t.Logf("register %s: model=%v err=%v", id, model[id], err)
						return false
					}
					model[id] = true
				} else {
					registry.Unregister(id)
					delete(model, id)
				}
			}

			expected := make([]string, 0, len(model))
			for id := range model {
				expected = append(expected, id)
			}
			sort.Strings(expected)

			actual := registry.Ids()
			if len(actual) != len(expected) {
				t.Logf("expected %v, got %v", expected, actual)
				return false
			}
			for i := range actual {
				if actual[i] != expected[i] {
					t.Logf("expected %v, got %v", expected, actual)
					return false
				}
			}

			return registry.Len() == len(expected)
		},
		gen.SliceOf(gen.IntRange(0, 19)),
	))

	properties.TestingRun(t)
}

func TestProperty_BroadcastDeliversAndPrunesInOnePass(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("healthy channels receive, failing channels are removed", prop.ForAll(
		func(failing []bool) bool {
			registry := NewInMemoryRegistry(zap.NewNop())
			channels := make([]*recordingChannel, len(failing))
			healthy := 0

			for i, fail := range failing {
				channels[i] = &recordingChannel{fail: fail}
				if !fail {
					healthy++
				}
				if err := registry.Register(fmt.Sprintf("conn-%d", i), channels[i]); err != nil {
					return false
				}
			}

			delivery := registry.Broadcast(notification.New(notification.TypeVouchersUpdated, time.Now()))
			if delivery.Recipients != healthy || delivery.Failed != len(failing)-healthy {
				return false
			}

			for i, fail := range failing {
				received := len(channels[i].Received())
				if fail && (received != 0 || !channels[i].IsClosed()) {
					return false
				}
				if !fail && received != 1 {
					return false
				}
			}

			if registry.Len() != healthy {
				return false
			}

			registry.Close()
			again := registry.Broadcast(notification.New(notification.TypeVouchersUpdated, time.Now()))

			return again == Delivery{} && registry.Len() == 0
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
