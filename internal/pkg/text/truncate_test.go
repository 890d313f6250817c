package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 5))
	assert.Equal(t, "hel…", Truncate("hello", 3))
	assert.Equal(t, "止损…", Truncate("止损触发", 2))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
