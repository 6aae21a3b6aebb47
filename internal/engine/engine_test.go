package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementString(t *testing.T) {
	el := Element{Name: "Bus_20kV_1", Class: ClassTerminal}
	assert.Equal(t, "Bus_20kV_1.ElmTerm", el.String())
}

func TestParseElement(t *testing.T) {
	tests := []struct {
		in      string
		want    Element
		wantErr bool
	}{
		{"G1.ElmSym", Element{Name: "G1", Class: "ElmSym"}, false},
		{"Bus.230kV.ElmTerm", Element{Name: "Bus.230kV", Class: "ElmTerm"}, false},
		{"NoClass", Element{}, true},
		{".ElmTerm", Element{}, true},
		{"Bus.", Element{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseElement(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchPattern(t *testing.T) {
	load := Element{Name: "Load_1", Class: ClassLoad}
	bus := Element{Name: "Bus_20kV_1", Class: ClassTerminal}

	assert.True(t, MatchPattern(PatternLoads, load))
	assert.False(t, MatchPattern(PatternLoads, bus))
	assert.True(t, MatchPattern("Bus_20kV_1.ElmTerm", bus))
	assert.True(t, MatchPattern("Bus_*.ElmTerm", bus))
	assert.False(t, MatchPattern("[", bus))
}

func TestParseLoadFlowMode(t *testing.T) {
	for in, want := range map[string]LoadFlowMode{
		"":           LoadFlowBalanced,
		"balanced":   LoadFlowBalanced,
		"Unbalanced": LoadFlowUnbalanced,
		"dc":         LoadFlowDC,
	} {
		got, err := ParseLoadFlowMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		if in != "" {
			assert.Equal(t, want.String(), got.String())
		}
	}
	_, err := ParseLoadFlowMode("ac")
	assert.Error(t, err)
}

func TestDynamicConfigValidate(t *testing.T) {
	ok := DynamicConfig{Type: SimulationEMT, Start: 0, Step: 1e-4, End: 0.02}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Type = "phasor"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Step = 0
	assert.Error(t, bad.Validate())

	bad = ok
	bad.End = 0
	assert.Error(t, bad.Validate())
}

func TestProjectPath(t *testing.T) {
	assert.Equal(t, "2A4G", Project{Name: "2A4G"}.Path())
	assert.Equal(t, `Studies\2A4G`, Project{Folder: "Studies", Name: "2A4G"}.Path())
}

func TestClearName(t *testing.T) {
	assert.Equal(t, "sc_clear", ClearName("sc"))
}
