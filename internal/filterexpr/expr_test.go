package filterexpr

import (
	"testing"

	"gotest.tools/v3/assert"
)

func attrs() AttributeMap {
	return AttributeMap{
		AttrOsUserName:  "oracle",
		AttrMachineName: "dbhost01",
		AttrClientInfo:  "batch",
	}
}

func TestTokenize(t *testing.T) {
	tokens, err := Tokenize("[os_user_name] == 'oracle' AND NOT ([client_info] != 'batch')")
	assert.NilError(t, err)
	types := make([]TokenType, len(tokens))
	for i, tok := range tokens {
		types[i] = tok.Type
	}
	assert.DeepEqual(t, types, []TokenType{
		IDENTIFIER, EQUALS, STRING, AND, NOT,
		PAREN_OPEN, IDENTIFIER, NOT_EQUALS, STRING, PAREN_CLOSE, EOF,
	})
	assert.Equal(t, tokens[0].Literal, "os_user_name")
	assert.Equal(t, tokens[2].Literal, "oracle")
}

func TestTokenizeErrors(t *testing.T) {
	_, err := Tokenize("[os_user_name] = 'x'")
	assert.ErrorContains(t, err, "expected '=='")

	_, err = Tokenize("[unterminated == 'x'")
	assert.ErrorContains(t, err, "unterminated attribute")

	_, err = Tokenize("[os_user_name] == 'open")
	assert.ErrorContains(t, err, "unterminated string")
}

func TestParseEval(t *testing.T) {
	cases := []struct {
		src  string
		want bool
	}{
		{"[os_user_name] == 'oracle'", true},
		{"[os_user_name] != 'oracle'", false},
		{"[os_user_name] == 'oracle' AND [machine_name] == 'dbhost01'", true},
		{"[os_user_name] == 'oracle' AND [machine_name] == 'other'", false},
		{"[os_user_name] == 'scott' OR [machine_name] == 'dbhost01'", true},
		{"NOT [os_user_name] == 'scott'", true},
		{"NOT ([os_user_name] == 'oracle' AND [client_info] == 'batch')", false},
		{"TRUE OR [os_user_name] == 'scott'", true},
		{"FALSE AND TRUE", false},
		// Missing attribute resolves to empty string.
		{"[login_username] == ''", true},
		// Precedence: AND binds tighter than OR.
		{"[os_user_name] == 'scott' OR [machine_name] == 'dbhost01' AND [client_info] == 'batch'", true},
	}
	for _, c := range cases {
		expr, err := Parse(c.src)
		assert.NilError(t, err, c.src)
		assert.Equal(t, expr.Eval(attrs()), c.want, c.src)
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"[no_such_attr] == 'x'",
		"[os_user_name] ==",
		"AND [os_user_name] == 'x'",
		"([os_user_name] == 'x'",
		"[os_user_name] == 'x')",
		"NOT 'x'",
	} {
		_, err := Parse(src)
		assert.Assert(t, err != nil, "expected error for %q", src)
	}
}

func TestEmptyConditionAlwaysTrue(t *testing.T) {
	expr, err := Parse("")
	assert.NilError(t, err)
	assert.Assert(t, expr.Eval(nil))

	var nilExpr *Expression
	assert.Assert(t, nilExpr.Eval(attrs()))
}
