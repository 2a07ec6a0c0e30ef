package htmlutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<!DOCTYPE html>
<html><body>
  <div class="card">
    <div style="font-size: 1rem;">Besøkende nå</div>
    <div style="font-size: 2rem;">
      37
    </div>
    <div style="font-size: 2rem;">99</div>
  </div>
</body></html>`

func TestFindElement(t *testing.T) {
	doc, err := Parse(strings.NewReader(page))
	require.NoError(t, err)

	n := FindElement(doc, "div", "style", "font-size: 2rem;")
	require.NotNil(t, n)
	assert.Equal(t, "37", NodeText(n))

	assert.Nil(t, FindElement(doc, "div", "style", "font-size: 2rem"))
	assert.Nil(t, FindElement(doc, "span", "style", "font-size: 2rem;"))
	assert.Nil(t, FindElement(nil, "div", "style", ""))
}

func TestNodeText(t *testing.T) {
	doc, err := Parse(strings.NewReader(`<p id="x"> <b>12</b>&nbsp;</p>`))
	require.NoError(t, err)

	n := FindElement(doc, "p", "id", "x")
	require.NotNil(t, n)
	assert.Equal(t, "12", NodeText(n))
	assert.Equal(t, "", NodeText(nil))
}

func TestToText(t *testing.T) {
	assert.Equal(t, "Tom & Jerry", ToText("<b>Tom &amp; Jerry</b>"))
}
