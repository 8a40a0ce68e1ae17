package review

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dryxio/auto-re-agent/internal/models"
)

func TestWriteCandidate(t *testing.T) {
	sink := NewSink(t.TempDir())

	path, err := sink.WriteCandidate(testKey, "return 1;")
	require.NoError(t, err)
	assert.Equal(t, sink.CandidatePath(testKey), path)
	assert.Equal(t, "006f5900_CEntity_Render.cpp", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "return 1;\n", string(data))
}

func TestWriteCandidate_KeepsTrailingNewline(t *testing.T) {
	sink := NewSink(t.TempDir())

	path, err := sink.WriteCandidate(testKey, "return 1;\n")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "return 1;\n", string(data))
}

func TestWriteCandidate_Overwrites(t *testing.T) {
	sink := NewSink(t.TempDir())

	_, err := sink.WriteCandidate(testKey, "first draft")
	require.NoError(t, err)
	path, err := sink.WriteCandidate(testKey, "second draft")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second draft\n", string(data))
}

func TestWriteCandidate_NoTempLeftover(t *testing.T) {
	sink := NewSink(t.TempDir())

	path, err := sink.WriteCandidate(testKey, "return 1;")
	require.NoError(t, err)

	files, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Base(path), files[0].Name())
}

func TestLogRound_AppendsOneLinePerRound(t *testing.T) {
	sink := NewSink(t.TempDir())
	entry := &models.SessionEntry{
		ID:       "01J5KXYZ",
		Address:  testKey.Address,
		Class:    testKey.Class,
		Function: testKey.Function,
	}

	err := sink.LogRound(entry, models.ReviewRound{
		Number:    1,
		Phase:     models.PhaseDraft,
		Candidate: greenCandidate,
		Verdict:   models.ParityVerdict{Status: models.ParityYellow, Summary: "yellow: short-body"},
		CreatedAt: time.Now().UTC(),
	}, models.StatusInProgress)
	require.NoError(t, err)

	err = sink.LogRound(entry, models.ReviewRound{
		Number:    2,
		Phase:     models.PhaseFix,
		Err:       "503 service unavailable",
		CreatedAt: time.Now().UTC(),
	}, models.StatusEscalated)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(sink.dir, "logs", "006f5900_CEntity_Render.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "01J5KXYZ", first["entry_id"])
	assert.Equal(t, float64(1), first["number"])
	assert.Equal(t, "draft", first["phase"])
	assert.Equal(t, "in_progress", first["status"])
	require.Contains(t, first, "verdict")
	// Candidate text stays out of the log
	assert.NotContains(t, lines[0], "SetupLighting")

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, float64(2), second["number"])
	assert.Equal(t, "escalated", second["status"])
	assert.Equal(t, "503 service unavailable", second["error"])
	assert.NotContains(t, second, "verdict")
}

func TestArtifactName(t *testing.T) {
	tests := []struct {
		name string
		key  models.FunctionKey
		want string
	}{
		{
			name: "method",
			key:  models.FunctionKey{Address: "006f5900", Class: "CEntity", Function: "Render"},
			want: "006f5900_CEntity_Render",
		},
		{
			name: "address normalized",
			key:  models.FunctionKey{Address: "0x6F5900", Class: "CEntity", Function: "Render"},
			want: "006f5900_CEntity_Render",
		},
		{
			name: "free function",
			key:  models.FunctionKey{Address: "00401000", Function: "RwFrameForAllObjects"},
			want: "00401000_RwFrameForAllObjects",
		},
		{
			name: "operator",
			key:  models.FunctionKey{Address: "0059c180", Class: "CVector", Function: "operator+="},
			want: "0059c180_CVector_operator__",
		},
		{
			name: "destructor",
			key:  models.FunctionKey{Address: "005a0e40", Class: "CPool", Function: "~CPool"},
			want: "005a0e40_CPool__CPool",
		},
		{
			name: "address only",
			key:  models.FunctionKey{Address: "00543210"},
			want: "00543210",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, artifactName(tt.key))
		})
	}
}
