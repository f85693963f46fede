package detector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/company-scraper/internal/scraper"
)

func TestHeuristic_ShouldPromote(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		resp scraper.FetchResponse
		want bool
	}{
		{
			name: "empty body",
			resp: scraper.FetchResponse{StatusCode: 200},
			want: true,
		},
		{
			name: "spa marker",
			resp: scraper.FetchResponse{StatusCode: 200, Body: []byte(`<div id="__next"></div>`)},
			want: true,
		},
		{
			name: "script heavy shell",
			resp: scraper.FetchResponse{StatusCode: 200, Body: []byte(`<html><script>var a=1;</script><p>t</p></html>`)},
			want: true,
		},
		{
			name: "rendered profile with marker",
			resp: scraper.FetchResponse{StatusCode: 200, Body: []byte(`<div id="root"><dl><DT>PAN</DT><dd>X</dd></dl></div>`)},
			want: false,
		},
		{
			name: "plain page",
			resp: scraper.FetchResponse{StatusCode: 200, Body: []byte(`<html><body><p>No records for this company.</p></body></html>`)},
			want: false,
		},
		{
			name: "not found",
			resp: scraper.FetchResponse{StatusCode: 404, Body: []byte("not found")},
			want: false,
		},
		{
			name: "already headless",
			resp: scraper.FetchResponse{StatusCode: 200, UsedHeadless: true},
			want: false,
		},
	}

	h := NewHeuristic(1000)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, h.ShouldPromote(tc.resp))
		})
	}
}

func TestNewHeuristicDefaultThreshold(t *testing.T) {
	t.Parallel()

	require.Equal(t, defaultThreshold, NewHeuristic(0).BodyLengthThreshold)
	require.Equal(t, 10, NewHeuristic(10).BodyLengthThreshold)
}

func TestScriptDensityUnterminated(t *testing.T) {
	t.Parallel()

	require.True(t, scriptDensityHigh([]byte(`<p>x</p><script>forever`)))
	require.False(t, scriptDensityHigh([]byte(`<p>only text here and nothing else at all</p>`)))
}
