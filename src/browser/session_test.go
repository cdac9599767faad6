package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Session drives the page exclusively through the embedded helper library;
// a helper referenced from Go but missing from the asset only fails at
// runtime inside a live browser, so pin the contract here.
func TestEmbeddedHelpersPresent(t *testing.T) {
	helpers := []string{
		"dq.find",
		"dq.describe",
		"dq.click",
		"dq.beginTyping",
		"dq.setValue",
		"dq.clear",
		"dq.value",
		"dq.options",
		"dq.balanceText",
		"dq.findOtpInput",
		"dq.findAmountInput",
		"dq.listDropdownOptions",
		"dq.clickDropdownOption",
	}
	for _, h := range helpers {
		assert.True(t, strings.Contains(deepQueryJS, h+" = function"), "missing helper %s", h)
	}
	assert.True(t, strings.Contains(deepQueryJS, "window.__dq = dq"))
}

func TestQueryConstructors(t *testing.T) {
	assert.Equal(t, Query{By: "id", Value: "id_sc_field_login"}, ByID("id_sc_field_login"))
	assert.Equal(t, Query{By: "name", Value: "code"}, ByName("code"))
	assert.Equal(t, Query{By: "css", Value: "select#account"}, ByCSS("select#account"))

	q := ByText("aceptar")
	assert.Equal(t, "text", q.By)
	assert.True(t, q.MustBeVisible)

	assert.Equal(t, `id="id_sc_field_login"`, ByID("id_sc_field_login").String())
}
