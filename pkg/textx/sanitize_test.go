package textx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "hello\nworld\t!", SanitizeText("he\x00llo\nwo\x7frld\t!"))
	assert.Equal(t, "ok", SanitizeText(" o\xffk "))
	assert.Equal(t, "", SanitizeText("\x01\x02"))
}
