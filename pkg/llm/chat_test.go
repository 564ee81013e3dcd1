package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrat/ragpipe/pkg/llm"
)

func TestNewWithConfig_Defaults(t *testing.T) {
	engine, err := llm.NewWithConfig(llm.ChatConfig{
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.NotNil(t, engine)
}

func TestNewWithConfig_RejectsBadTemperature(t *testing.T) {
	_, err := llm.NewWithConfig(llm.ChatConfig{Temperature: 1.5})
	assert.Error(t, err)
}

func TestNewWithConfig_RejectsNegativeMaxTokens(t *testing.T) {
	_, err := llm.NewWithConfig(llm.ChatConfig{Temperature: 0.5, MaxTokens: -1})
	assert.Error(t, err)
}
