package colorize

import (
	"testing"

	"github.com/alecthomas/chroma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listing = `.class public Lcom/app/A;
.method public run()V
    .registers 2
    0000: const-string v0, "hi"
    0002: invoke-static {v0}, Lcom/app/Log;->d(Ljava/lang/String;)V
    0005: add-int/lit8 v1, v1, 0x1
    0007: return-void
.end method
`

func TestDalvikTokens(t *testing.T) {
	it, err := Dalvik.Tokenise(nil, listing)
	require.NoError(t, err)
	seen := map[chroma.TokenType][]string{}
	for _, tok := range it.Tokens() {
		seen[tok.Type] = append(seen[tok.Type], tok.Value)
	}
	assert.Contains(t, seen[chroma.KeywordPseudo], ".class")
	assert.Contains(t, seen[chroma.KeywordPseudo], ".registers")
	assert.Contains(t, seen[chroma.NameLabel], "0002:")
	assert.Contains(t, seen[chroma.String], `"hi"`)
	assert.Contains(t, seen[chroma.NameClass], "Lcom/app/A;")
	assert.Contains(t, seen[chroma.NameVariable], "v1")
	assert.Contains(t, seen[chroma.LiteralNumberHex], "0x1")
	assert.Contains(t, seen[chroma.Keyword], "return-void")
}

func TestListing(t *testing.T) {
	t.Setenv("DEXDIFF_NO_COLOR", "")
	t.Setenv("NO_COLOR", "")
	out, err := Listing(listing)
	require.NoError(t, err)
	assert.Contains(t, out, "\x1b[")
	assert.Equal(t, listing, StripANSI(out))

	t.Setenv("DEXDIFF_NO_COLOR", "1")
	out, err = Listing(listing)
	require.NoError(t, err)
	assert.Equal(t, listing, out)
}

func TestDiff(t *testing.T) {
	t.Setenv("DEXDIFF_NO_COLOR", "")
	t.Setenv("NO_COLOR", "")
	diff := "--- a\n+++ b\n@@ -1 +1 @@\n-const/4 v0, 0x1\n+const/4 v0, 0x2\n"
	out, err := Diff(diff)
	require.NoError(t, err)
	assert.Equal(t, diff, StripANSI(out))
}
