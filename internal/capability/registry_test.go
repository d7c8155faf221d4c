package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"datapilot/engine/internal/dataset"
	"datapilot/engine/internal/llm"
)

type stubCapability struct {
	name   string
	output string
}

func (s *stubCapability) Name() string        { return s.name }
func (s *stubCapability) Description() string { return "stub " + s.name }
func (s *stubCapability) DirectReturn() bool  { return false }
func (s *stubCapability) Execute(ctx context.Context, input string, ds *dataset.Handle) (string, error) {
	return s.output, nil
}

// scriptedCompleter returns canned replies in order and records every call.
type scriptedCompleter struct {
	replies []string
	calls   [][]llm.Message
}

func (s *scriptedCompleter) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	s.calls = append(s.calls, messages)
	if len(s.replies) == 0 {
		return "", errors.New("no scripted reply left")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func loadTestDataset(t *testing.T, csv string) *dataset.Handle {
	t.Helper()
	h, err := dataset.Load("test.csv", []byte(csv))
	require.NoError(t, err)
	return h
}

func TestRegistryOrderAndLookup(t *testing.T) {
	a := &stubCapability{name: "alpha"}
	b := &stubCapability{name: "beta"}
	reg, err := NewRegistry(a, b)
	require.NoError(t, err)

	require.Equal(t, []string{"alpha", "beta"}, reg.Names())

	got, err := reg.Lookup("beta")
	require.NoError(t, err)
	require.Same(t, b, got)

	_, err = reg.Lookup("gamma")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "gamma", notFound.Name)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(&stubCapability{name: "alpha"}, &stubCapability{name: "alpha"})
	require.Error(t, err)
}

func TestDescribeAllKeepsRegistrationOrder(t *testing.T) {
	reg, err := NewRegistry(&stubCapability{name: "zeta"}, &stubCapability{name: "alpha"})
	require.NoError(t, err)
	desc := reg.DescribeAll()
	require.Less(t, indexOf(desc, "zeta"), indexOf(desc, "alpha"))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
