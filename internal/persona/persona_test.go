package persona

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "travel_expert", NormalizeID(" Travel Expert "))
	assert.Equal(t, "strict", NormalizeID("strict"))
}

func TestValidateSet(t *testing.T) {
	tests := []struct {
		name    string
		set     map[string]Persona
		wantErr error
	}{
		{"defaults", Defaults(), nil},
		{"missing prompt", map[string]Persona{"a": {Name: "A"}}, ErrInvalid},
		{"missing name", map[string]Persona{"a": {Prompt: "p"}}, ErrInvalid},
		{"reserved id", map[string]Persona{"supervisor": {Name: "S", Prompt: "p"}}, ErrInvalid},
		{"key mismatch", map[string]Persona{"a": {ID: "b", Name: "A", Prompt: "p"}}, ErrInvalid},
		{"duplicate names", map[string]Persona{
			"a": {Name: "Same", Prompt: "p"},
			"b": {Name: "Same", Prompt: "q"},
		}, ErrDuplicateName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSet(tt.set)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCloneFillsIDsAndDetaches(t *testing.T) {
	src := map[string]Persona{"a": {Name: "A", Prompt: "p"}}
	out := Clone(src)
	assert.Equal(t, "a", out["a"].ID)

	out["b"] = Persona{ID: "b"}
	assert.Len(t, src, 1)
}

func TestFileStoreSeedsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")

	s, err := NewFileStore(path)
	require.NoError(t, err)

	all, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), all)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Strict Reviewer")
}

func TestFileStoreReadsHandWrittenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	content := `
strict:
  name: Strict Reviewer
  prompt: Be strict.
kind:
  name: Kind Reviewer
  prompt: Be kind.
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	s, err := NewFileStore(path)
	require.NoError(t, err)

	all, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]Persona{
		"strict": {ID: "strict", Name: "Strict Reviewer", Prompt: "Be strict."},
		"kind":   {ID: "kind", Name: "Kind Reviewer", Prompt: "Be kind."},
	}, all)
}

func TestFileStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "personas.yaml"))
	require.NoError(t, err)

	p, err := s.Put(ctx, Persona{ID: "Travel Expert", Name: "Travel Expert", Prompt: "You travel."})
	require.NoError(t, err)
	assert.Equal(t, "travel_expert", p.ID)

	got, err := s.Get(ctx, "Travel Expert")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = s.Put(ctx, Persona{ID: "other", Name: "Travel Expert", Prompt: "x"})
	assert.ErrorIs(t, err, ErrDuplicateName)

	require.NoError(t, s.Delete(ctx, "travel_expert"))
	_, err = s.Get(ctx, "travel_expert")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "travel_expert"), ErrNotFound)

	require.NoError(t, s.Replace(ctx, map[string]Persona{"only": {Name: "Only", Prompt: "p"}}))
	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, SortedIDs(all))
}

func TestFileStoreKeepsLastPersona(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "personas.yaml"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"strict", "forgiving"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Delete(ctx, id)
		}()
	}
	wg.Wait()

	var failed int
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrLastPersona)
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestWatcherFiresOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "personas.yaml")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	var fired atomic.Int32
	w, err := NewWatcher(path, func(ctx context.Context) { fired.Add(1) })
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// Unrelated files in the directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	_, err = s.Put(context.Background(), Persona{ID: "kind", Name: "Kind Reviewer", Prompt: "Be kind."})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return fired.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, w.Stats().Events, 1)
}
