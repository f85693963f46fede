package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/company-scraper/internal/scraper"
)

func TestExtractLabelledPairs(t *testing.T) {
	t.Parallel()

	page := `<html><body><dl>
		<dt> E-Mail </dt><dd> a@b.com </dd>
		<dt>Business Activity</dt><dd>Manufacturing of widgets</dd>
		<dt>PAN Number</dt><dd>ABCDE1234F</dd>
		<dt>GST Number</dt><dd>29ABCDE1234F1Z5</dd>
	</dl></body></html>`

	fields, err := Extract([]byte(page))
	require.NoError(t, err)
	require.Equal(t, scraper.Fields{
		Email:    "a@b.com",
		Activity: "Manufacturing of widgets",
		PAN:      "ABCDE1234F",
		GST:      "29ABCDE1234F1Z5",
	}, fields)
}

func TestExtractNoPairsLeavesSentinels(t *testing.T) {
	t.Parallel()

	fields, err := Extract([]byte(`<html><body><p>Nothing to see here.</p></body></html>`))
	require.NoError(t, err)
	require.Equal(t, scraper.DefaultFields(), fields)
}

func TestExtractGSTFallback(t *testing.T) {
	t.Parallel()

	page := `<html><body>
		<dl><dt>E-Mail</dt><dd>info@acme.in</dd></dl>
		<p>Registered under GSTIN 29ABCDE1234F1Z5 since 2019.</p>
	</body></html>`

	fields, err := Extract([]byte(page))
	require.NoError(t, err)
	require.Equal(t, "29ABCDE1234F1Z5", fields.GST)
	require.Equal(t, "info@acme.in", fields.Email)
	require.Equal(t, scraper.NotMentioned, fields.PAN)
}

func TestExtractGSTFallbackIsCaseSensitive(t *testing.T) {
	t.Parallel()

	fields, err := Extract([]byte(`<p>29abcde1234f1z5</p>`))
	require.NoError(t, err)
	require.Equal(t, scraper.NotMentioned, fields.GST)
}

func TestExtractLabelledGSTWinsOverFallback(t *testing.T) {
	t.Parallel()

	page := `<dl><dt>GST</dt><dd>pending</dd></dl><p>27AAAAA0000A1Z5</p>`
	fields, err := Extract([]byte(page))
	require.NoError(t, err)
	require.Equal(t, "pending", fields.GST)
}

func TestExtractPANBeforeGST(t *testing.T) {
	t.Parallel()

	page := `<dl><dt>PAN / GST</dt><dd>ABCDE1234F</dd></dl>`
	fields, err := Extract([]byte(page))
	require.NoError(t, err)
	require.Equal(t, "ABCDE1234F", fields.PAN)
	require.Equal(t, scraper.NotMentioned, fields.GST)
}

func TestExtractTermWithoutDescription(t *testing.T) {
	t.Parallel()

	page := `<dl><dd>orphan</dd><dt>E-Mail</dt></dl>`
	fields, err := Extract([]byte(page))
	require.NoError(t, err)
	require.Equal(t, scraper.NotMentioned, fields.Email)
}

func TestExtractSkipsNonDescriptionSiblings(t *testing.T) {
	t.Parallel()

	page := `<dl><dt>Main Activity</dt><span>ignored</span><dd>Trading</dd></dl>`
	fields, err := Extract([]byte(page))
	require.NoError(t, err)
	require.Equal(t, "Trading", fields.Activity)
}

func TestExtractLastPairWins(t *testing.T) {
	t.Parallel()

	page := `<dl><dt>E-Mail</dt><dd>first@x.in</dd><dt>Alternate E-Mail</dt><dd>second@x.in</dd></dl>`
	fields, err := Extract([]byte(page))
	require.NoError(t, err)
	require.Equal(t, "second@x.in", fields.Email)
}

func TestExtractJoinsNestedTextNodes(t *testing.T) {
	t.Parallel()

	page := "<dl><dt>\n  <span>E-Mail</span>\n</dt><dd>\n  <a>a@b.com</a>\n  <span>(verified)</span>\n</dd>" +
		"<dt>Main Activity</dt><dd>Manufacturing of\n      <b>textiles</b></dd></dl>"

	fields, err := Extract([]byte(page))
	require.NoError(t, err)
	require.Equal(t, "a@b.com(verified)", fields.Email)
	require.Equal(t, "Manufacturing oftextiles", fields.Activity)
}
