package logmon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func comfyPatterns() []Pattern {
	return []Pattern{
		{Category: Load, Substrings: []string{"To see the GUI go to: "}},
		{Category: Error, Substrings: []string{"MetadataIncompleteBuffer", "Value not in list: ", "[ERROR] Provisioning Script failed"}},
		{Category: Info, Substrings: []string{`"message":"Downloading`}},
	}
}

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier(comfyPatterns())

	tests := []struct {
		name    string
		line    string
		want    Category
		matched bool
	}{
		{"load line", "To see the GUI go to: http://127.0.0.1:18288", Load, true},
		{"error line", "safetensors_rust.SafetensorError: MetadataIncompleteBuffer", Error, true},
		{"error with spaces", "Failed to validate prompt: Value not in list: ckpt_name", Error, true},
		{"info line", `{"message":"Downloading model.fp16.ckpt"}`, Info, true},
		{"unmatched line", "Starting server", Load, false},
		{"error wins over info", `{"message":"Downloading"} MetadataIncompleteBuffer`, Error, true},
		{"error wins over load", "To see the GUI go to: [ERROR] Provisioning Script failed", Error, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.Classify(tt.line)
			assert.Equal(t, tt.matched, ok)
			if tt.matched {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestClassifier_DeclaredOrderBreaksNonErrorTies(t *testing.T) {
	// GIVEN info declared before load and a line matching both
	c := NewClassifier([]Pattern{
		{Category: Info, Substrings: []string{"ready"}},
		{Category: Load, Substrings: []string{"ready"}},
	})

	// WHEN classified
	got, ok := c.Classify("server ready")

	// THEN the first declared pattern wins
	assert.True(t, ok)
	assert.Equal(t, Info, got)
}

func TestClassifier_CopiesPatterns(t *testing.T) {
	patterns := comfyPatterns()
	c := NewClassifier(patterns)
	patterns[1].Substrings[0] = "something else"

	got, ok := c.Classify("MetadataIncompleteBuffer")
	assert.True(t, ok)
	assert.Equal(t, Error, got)
}

func TestClassifier_HasCategory(t *testing.T) {
	c := NewClassifier([]Pattern{{Category: Error, Substrings: []string{"boom"}}})
	assert.True(t, c.HasCategory(Error))
	assert.False(t, c.HasCategory(Load))
}

func TestCategory_String(t *testing.T) {
	assert.Equal(t, "Load", Load.String())
	assert.Equal(t, "Error", Error.String())
	assert.Equal(t, "Info", Info.String())
	assert.Equal(t, "Unknown", Category(42).String())
}
