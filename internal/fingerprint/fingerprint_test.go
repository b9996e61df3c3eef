package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyDeterminism(t *testing.T) {
	e := New(nil)
	stack := "Error: boom\n    at handler (src/app.js:10:4)"

	a := e.Key("Connection refused", stack, "svc")
	b := e.Key("Connection refused", stack, "svc")
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestKeyCollapsesNumbers(t *testing.T) {
	e := New(nil)
	a := e.Key("User 42 failed", "", "app")
	b := e.Key("User 99 failed", "", "app")
	assert.Equal(t, a, b)
}

func TestKeyCollapsesUUIDsHexAndQuotes(t *testing.T) {
	e := New(nil)

	cases := [][2]string{
		{
			"request 0c6ad1b4-9df1-4d93-b1ba-6eab1bcd9871 timed out",
			"request 9e107d9d-372b-4d81-8a3e-1d1b6e6f1a2b timed out",
		},
		{
			"segfault at 0xdeadbeef",
			"segfault at 0x1234abcd",
		},
		{
			`key "alpha" not found`,
			`key "omega" not found`,
		},
		{
			"missing file 'a.txt'",
			"missing file 'b.txt'",
		},
	}
	for _, c := range cases {
		assert.Equal(t, e.Key(c[0], "", "app"), e.Key(c[1], "", "app"), "inputs %q / %q", c[0], c[1])
	}
}

func TestKeyDistinctPerApp(t *testing.T) {
	e := New(nil)
	a := e.Key("Connection refused", "at db.js:10:4", "app1")
	b := e.Key("Connection refused", "at db.js:10:4", "app2")
	assert.NotEqual(t, a, b)
}

func TestKeyEmptyInputs(t *testing.T) {
	e := New(nil)
	assert.NotEmpty(t, e.Key("", "", ""))
	assert.NotEmpty(t, e.Key("", "", "app"))
}

func TestAppFrameSkipsVendorFrames(t *testing.T) {
	e := New(nil)
	stack := "TypeError: x is not a function\n" +
		"    at wrap (node_modules/express/lib/router.js:635:15)\n" +
		"    at handle (src/routes/users.js:22:9)"

	frame := e.appFrame(stack)
	assert.Contains(t, frame, "src/routes/users.js")
	assert.Contains(t, frame, ":<n>")
	assert.NotContains(t, frame, "22")
}

func TestAppFrameLineColumnNormalized(t *testing.T) {
	e := New(nil)
	a := e.Key("boom", "at db.js:10:4", "svc")
	b := e.Key("boom", "at db.js:99:1", "svc")
	assert.Equal(t, a, b)
}

func TestAppFrameNoQualifyingLine(t *testing.T) {
	e := New(nil)
	assert.Equal(t, "", e.appFrame("just some text\nwithout locations"))
	assert.Equal(t, "", e.appFrame(""))
}

func TestNormalizeMessage(t *testing.T) {
	got := NormalizeMessage(`user 42 with token 0xff and name "bob" missing`)
	assert.Equal(t, `user <n> with token <hex> and name <str> missing`, got)
}

func TestLoadVendorMarkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markers.yaml")
	content := "vendor_markers:\n  - dist/deps\n  - third_party\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	markers, err := LoadVendorMarkers(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"dist/deps", "third_party"}, markers)

	e := New(markers)
	stack := "    at x (third_party/lib.js:1:1)\n    at y (app/main.js:2:2)"
	assert.Contains(t, e.appFrame(stack), "app/main.js")
}

func TestLoadVendorMarkersMissingFile(t *testing.T) {
	_, err := LoadVendorMarkers(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
