package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPlainTextStripsTagsAndCollapsesWhitespace(t *testing.T) {
	s := NewDefault()
	out, err := s.ToPlainText("<p>Hello   <b>world</b>\n\n<i>!</i></p>")
	require.NoError(t, err)
	assert.Equal(t, "Hello world !", out)
}

func TestToPlainTextEmptyInput(t *testing.T) {
	s := NewDefault()
	out, err := s.ToPlainText("")
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestToPangoEscapesAmpersand(t *testing.T) {
	s := NewDefault()
	out, err := s.ToPango("Tom & Jerry")
	require.NoError(t, err)
	assert.Contains(t, out, "&amp;")
}
