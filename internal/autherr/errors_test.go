package autherr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("login: %w", New(KindProtocol, "poll", "device code expired"))

	assert.ErrorIs(t, err, ErrProtocol)
	assert.NotErrorIs(t, err, ErrNetwork)
	assert.Equal(t, KindProtocol, KindOf(err))
}

func TestErrorMessageNamesMissingScopes(t *testing.T) {
	e := New(KindScope, "validate", "token lacks required scopes")
	e.Scopes = []string{"copilot"}

	assert.Equal(t, "validate: token lacks required scopes (missing scopes: copilot)", e.Error())
}

func TestFailClassifiesPlainErrorsAsNetwork(t *testing.T) {
	res := Fail(errors.New("dial tcp: connection refused"))

	assert.False(t, res.Success)
	assert.Equal(t, KindNetwork, res.Err.Kind)
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestHintOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(KindCredential, "", "expired").WithHint("run login"))
	assert.Equal(t, "run login", HintOf(err))
}
