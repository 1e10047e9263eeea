package templating

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractNameParts_WithPrefix(t *testing.T) {
	prefix, name := ExtractNameParts("Dr. Hatem Ayman")
	assert.Equal(t, "Dr.", prefix)
	assert.Equal(t, "Ayman", name)
}

func TestExtractNameParts_WithoutPrefix(t *testing.T) {
	prefix, name := ExtractNameParts("Hatem Ayman")
	assert.Equal(t, "Hatem", prefix)
	assert.Equal(t, "Ayman", name)
}

func TestExtractNameParts_SingleName(t *testing.T) {
	prefix, name := ExtractNameParts("Cher")
	assert.Equal(t, "", prefix)
	assert.Equal(t, "Cher", name)
}

func TestExtractNameParts_CommaSeparated(t *testing.T) {
	prefix, name := ExtractNameParts("Ayman, Hatem")
	assert.Equal(t, "Ayman", prefix)
	assert.Equal(t, "Hatem", name)
}

func TestExtractNameParts_Empty(t *testing.T) {
	prefix, name := ExtractNameParts("")
	assert.Equal(t, "", prefix)
	assert.Equal(t, "", name)
}

func TestExtractNameParts_PrefixNoTrailingDot(t *testing.T) {
	prefix, name := ExtractNameParts("Mr Smith")
	assert.Equal(t, "Mr.", prefix)
	assert.Equal(t, "Smith", name)
}
