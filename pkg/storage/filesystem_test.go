package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/promoflow/pkg/domain/types"
	"github.com/dshills/promoflow/pkg/tree"
)

func sampleDefinition(id string) *tree.Definition {
	return &tree.Definition{
		ID:     id,
		Name:   "Sample " + id,
		Status: "Active",
		Root:   "CHECK",
		Nodes: []tree.NodeDefinition{
			{ID: "CHECK", Type: "Condition", Command: "Expression", Expression: "creditScore > 700", OnTrue: "YES", OnFalse: "NO"},
			{ID: "YES", Type: "Calculation", Command: "Expression", Expression: "100"},
			{ID: "NO", Type: "Calculation", Command: "Expression", Expression: "0"},
		},
	}
}

func TestFileTreeRepository_SaveLoadDelete(t *testing.T) {
	repo, err := NewFileTreeRepository(filepath.Join(t.TempDir(), "trees"), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, repo.Save(sampleDefinition("score-tree")))

	def, err := repo.Load("score-tree")
	require.NoError(t, err)
	assert.Equal(t, "Sample score-tree", def.Name)
	assert.Equal(t, "CHECK", def.Root)
	require.Len(t, def.Nodes, 3)
	assert.Equal(t, "YES", def.Nodes[0].OnTrue)

	_, err = os.Stat(filepath.Join(repo.Dir(), "score-tree.yaml.tmp"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, repo.Delete("score-tree"))
	_, err = repo.Load("score-tree")
	assert.ErrorIs(t, err, ErrTreeNotFound)
	assert.ErrorIs(t, repo.Delete("score-tree"), ErrTreeNotFound)
}

func TestFileTreeRepository_RejectsUnsafeIDs(t *testing.T) {
	repo, err := NewFileTreeRepository(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	for _, id := range []string{"", "../escape", "a/b", "with space"} {
		_, err := repo.Load(types.TreeID(id))
		assert.Error(t, err, id)
		assert.Error(t, repo.Save(sampleDefinition(id)), id)
	}
}

func TestFileTreeRepository_ListSkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileTreeRepository(dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, repo.Save(sampleDefinition("b-tree")))
	require.NoError(t, repo.Save(sampleDefinition("a-tree")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [unterminated"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0600))

	defs, err := repo.List()
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "a-tree", defs[0].ID)
	assert.Equal(t, "b-tree", defs[1].ID)
}

func TestFileTreeRepository_LoadedDefinitionBuilds(t *testing.T) {
	repo, err := NewFileTreeRepository(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Save(sampleDefinition("build-me")))

	def, err := repo.Load("build-me")
	require.NoError(t, err)

	dt, err := tree.Build(def)
	require.NoError(t, err)
	defer func() { _ = dt.Close() }()
	assert.Equal(t, tree.StatusActive, dt.Status())
}
