package hls

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/chanstream/internal/tempfile"
)

var est = time.FixedZone("EST", -5*60*60)

func lines(s string) []string {
	return strings.Split(strings.TrimPrefix(s, "\n"), "\n")
}

const threeSegments = `
#EXTM3U
#EXT-X-VERSION:6
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:1137
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-DISCONTINUITY
#EXTINF:4.000000,
#EXT-X-PROGRAM-DATE-TIME:2021-10-08T08:34:49.320-0500
live001137.ts
#EXTINF:4.000000,
#EXT-X-PROGRAM-DATE-TIME:2021-10-08T08:34:53.320-0500
live001138.ts
#EXTINF:4.000000,
#EXT-X-PROGRAM-DATE-TIME:2021-10-08T08:34:57.320-0500
live001139.ts`

func assertPlaylist(t *testing.T, want, got string) {
	t.Helper()
	if diff := cmp.Diff(strings.TrimPrefix(want, "\n"), got); diff != "" {
		t.Errorf("playlist mismatch (-want +got):\n%s", diff)
	}
}

func TestTrimPlaylist_RewritesProgramDateTime(t *testing.T) {
	start := time.Date(2021, 10, 9, 8, 0, 0, 0, est)
	tr := NewTrimmer(nil, nil)

	res, err := tr.TrimPlaylist(start, start.Add(-30*time.Second), lines(threeSegments), 0, false)
	require.NoError(t, err)

	assert.True(t, res.PlaylistStart.Equal(start))
	assert.Equal(t, int64(1137), res.Sequence)
	assert.Equal(t, 3, res.SegmentCount)
	assertPlaylist(t, `
#EXTM3U
#EXT-X-VERSION:6
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:1137
#EXT-X-DISCONTINUITY-SEQUENCE:0
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-DISCONTINUITY
#EXTINF:4.000000,
#EXT-X-PROGRAM-DATE-TIME:2021-10-09T08:00:00.000-0500
live001137.ts
#EXTINF:4.000000,
#EXT-X-PROGRAM-DATE-TIME:2021-10-09T08:00:04.000-0500
live001138.ts
#EXTINF:4.000000,
#EXT-X-PROGRAM-DATE-TIME:2021-10-09T08:00:08.000-0500
live001139.ts
`, res.Playlist)
}

func TestTrimPlaylist_LimitsSegments(t *testing.T) {
	start := time.Date(2021, 10, 9, 8, 0, 0, 0, est)
	tr := NewTrimmer(nil, nil)

	res, err := tr.TrimPlaylist(start, start.Add(-30*time.Second), lines(threeSegments), 2, false)
	require.NoError(t, err)

	assert.Equal(t, 2, res.SegmentCount)
	assertPlaylist(t, `
#EXTM3U
#EXT-X-VERSION:6
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:1137
#EXT-X-DISCONTINUITY-SEQUENCE:0
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-DISCONTINUITY
#EXTINF:4.000000,
#EXT-X-PROGRAM-DATE-TIME:2021-10-09T08:00:00.000-0500
live001137.ts
#EXTINF:4.000000,
#EXT-X-PROGRAM-DATE-TIME:2021-10-09T08:00:04.000-0500
live001138.ts
`, res.Playlist)
}

func TestTrimPlaylistWithDiscontinuity_AppendsMarker(t *testing.T) {
	start := time.Date(2021, 10, 9, 8, 0, 0, 0, est)
	tr := NewTrimmer(nil, nil)

	res, err := tr.TrimPlaylistWithDiscontinuity(start, start.Add(-30*time.Second), lines(threeSegments))
	require.NoError(t, err)

	assert.Equal(t, 3, res.SegmentCount)
	assert.True(t, strings.HasSuffix(res.Playlist, "live001139.ts\n#EXT-X-DISCONTINUITY\n"), res.Playlist)

	// trimming the result again keeps a single trailing marker
	again, err := tr.TrimPlaylistWithDiscontinuity(start, start.Add(-30*time.Second), lines(res.Playlist))
	require.NoError(t, err)
	assert.Equal(t, res.Playlist, again.Playlist)
}

func TestTrimPlaylist_FiltersOldSegments(t *testing.T) {
	start := time.Date(2021, 10, 9, 8, 0, 0, 0, est)
	tr := NewTrimmer(nil, nil)

	res, err := tr.TrimPlaylist(start, start.Add(6*time.Second), lines(threeSegments), 0, false)
	require.NoError(t, err)

	assert.True(t, res.PlaylistStart.Equal(start.Add(8*time.Second)))
	assert.Equal(t, int64(1139), res.Sequence)
	assertPlaylist(t, `
#EXTM3U
#EXT-X-VERSION:6
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:1139
#EXT-X-DISCONTINUITY-SEQUENCE:1
#EXT-X-INDEPENDENT-SEGMENTS
#EXTINF:4.000000,
#EXT-X-PROGRAM-DATE-TIME:2021-10-09T08:00:08.000-0500
live001139.ts
`, res.Playlist)
}

func TestTrimPlaylist_CountsDroppedDiscontinuities(t *testing.T) {
	start := time.Date(2021, 10, 9, 8, 0, 0, 0, est)
	input := lines(`
#EXTM3U
#EXT-X-VERSION:6
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:1137
#EXT-X-DISCONTINUITY-SEQUENCE:3
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-DISCONTINUITY
#EXTINF:4.000000,
live001137.ts
#EXT-X-DISCONTINUITY
#EXTINF:4.000000,
live001138.ts
#EXTINF:4.000000,
live001139.ts
#EXT-X-DISCONTINUITY
#EXTINF:4.000000,
live001140.ts`)
	tr := NewTrimmer(nil, nil)

	res, err := tr.TrimPlaylist(start, start.Add(6*time.Second), input, 0, false)
	require.NoError(t, err)

	assert.Equal(t, int64(1139), res.Sequence)
	assertPlaylist(t, `
#EXTM3U
#EXT-X-VERSION:6
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:1139
#EXT-X-DISCONTINUITY-SEQUENCE:5
#EXT-X-INDEPENDENT-SEGMENTS
#EXTINF:4.000000,
#EXT-X-PROGRAM-DATE-TIME:2021-10-09T08:00:08.000-0500
live001139.ts
#EXT-X-DISCONTINUITY
#EXTINF:4.000000,
#EXT-X-PROGRAM-DATE-TIME:2021-10-09T08:00:12.000-0500
live001140.ts
`, res.Playlist)
}

func TestTrimPlaylist_RepeatedPassesKeepDiscontinuityCount(t *testing.T) {
	start := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	input := lines(`
#EXTM3U
#EXT-X-VERSION:6
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:5
#EXT-X-DISCONTINUITY-SEQUENCE:0
#EXTINF:4.000000,
live000005.ts
#EXTINF:4.000000,
live000006.ts
#EXT-X-DISCONTINUITY
#EXTINF:4.000000,
live000007.ts
#EXTINF:4.000000,
live000008.ts
#EXTINF:4.000000,
live000009.ts`)
	tr := NewTrimmer(nil, nil)

	// each pass feeds the previous output back in, as the session worker does
	tests := []struct {
		dropUntil   time.Duration
		wantFirst   string
		wantDiscSeq string
		wantMarker  bool
	}{
		{8 * time.Second, "live000007.ts", "#EXT-X-DISCONTINUITY-SEQUENCE:0\n", true},
		{12 * time.Second, "live000008.ts", "#EXT-X-DISCONTINUITY-SEQUENCE:1\n", false},
		{16 * time.Second, "live000009.ts", "#EXT-X-DISCONTINUITY-SEQUENCE:1\n", false},
	}
	playlistStart := start
	for _, tt := range tests {
		res, err := tr.TrimPlaylist(playlistStart, start.Add(tt.dropUntil), input, 0, false)
		require.NoError(t, err)
		require.Positive(t, res.SegmentCount)

		assert.Contains(t, res.Playlist, tt.wantDiscSeq, tt.wantFirst)
		head, _, found := strings.Cut(res.Playlist, "#EXTINF")
		require.True(t, found)
		assert.Equal(t, tt.wantMarker, strings.Contains(head, "#EXT-X-DISCONTINUITY\n"), tt.wantFirst)
		assert.Equal(t, tt.wantMarker, strings.Contains(res.Playlist, "#EXT-X-DISCONTINUITY\n"), tt.wantFirst)
		firstURI := strings.SplitN(res.Playlist, ".ts", 2)[0] + ".ts"
		assert.True(t, strings.HasSuffix(firstURI, tt.wantFirst), firstURI)

		playlistStart = res.PlaylistStart
		input = lines(res.Playlist)
	}
}

func TestTrimPlaylist_WindowOfTenFromTwelve(t *testing.T) {
	start := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXT-X-MEDIA-SEQUENCE:40\n")
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, "#EXTINF:4.000000,\nlive%06d.ts\n", 40+i)
	}
	tr := NewTrimmer(nil, nil)

	res, err := tr.TrimPlaylist(start, start, lines(b.String()), 10, false)
	require.NoError(t, err)

	assert.Equal(t, 10, res.SegmentCount)
	assert.Equal(t, int64(40), res.Sequence)
	assert.True(t, res.PlaylistStart.Equal(start))
	assert.Contains(t, res.Playlist, "#EXT-X-VERSION:6\n", "version defaults to 6")
	assert.Contains(t, res.Playlist, "live000049.ts\n")
	assert.NotContains(t, res.Playlist, "live000050.ts")
	assert.NotContains(t, res.Playlist, "#EXT-X-DISCONTINUITY\n")
}

func TestTrimPlaylist_FilteredWindowShrinks(t *testing.T) {
	start := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXT-X-MEDIA-SEQUENCE:40\n")
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, "#EXTINF:4.000000,\nlive%06d.ts\n", 40+i)
	}
	tr := NewTrimmer(nil, nil)

	// segments starting before the filter time are not brought back to fill the cap
	res, err := tr.TrimPlaylist(start, start.Add(30*time.Second), lines(b.String()), 10, false)
	require.NoError(t, err)

	assert.Equal(t, 4, res.SegmentCount)
	assert.Equal(t, int64(48), res.Sequence)
	assert.NotContains(t, res.Playlist, "live000047.ts")
	assert.Contains(t, res.Playlist, "live000051.ts\n")
}

func TestTrimPlaylist_RoundTripKeepsDuration(t *testing.T) {
	start := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	input := lines(`
#EXTM3U
#EXT-X-TARGETDURATION:5
#EXTINF:4.004000,
live000001.ts
#EXTINF:3.503500,
live000002.ts
#EXTINF:4.004000,
live000003.ts`)
	tr := NewTrimmer(nil, nil)

	res, err := tr.TrimPlaylist(start, start, input, 0, false)
	require.NoError(t, err)
	require.Equal(t, 3, res.SegmentCount)

	out, err := parsePlaylist(lines(res.Playlist))
	require.NoError(t, err)
	in, err := parsePlaylist(input)
	require.NoError(t, err)
	assert.Equal(t, in.totalDuration(), out.totalDuration())
	assert.Contains(t, res.Playlist, "#EXT-X-PROGRAM-DATE-TIME:2024-03-01T20:00:07.507+0000\n")
}

func TestTrimPlaylist_EmptyWindowReportsEnd(t *testing.T) {
	start := time.Date(2021, 10, 9, 8, 0, 0, 0, est)
	tr := NewTrimmer(nil, nil)

	res, err := tr.TrimPlaylist(start, start.Add(time.Hour), lines(threeSegments), 0, true)
	require.NoError(t, err)

	assert.Equal(t, 0, res.SegmentCount)
	assert.True(t, res.PlaylistStart.Equal(start.Add(12*time.Second)))
	assert.Equal(t, int64(1140), res.Sequence)
	assert.NotContains(t, res.Playlist, "#EXTINF")
	assert.NotContains(t, res.Playlist, "#EXT-X-DISCONTINUITY\n")
}

func TestTrimPlaylist_FragmentedMP4UsesCanonicalInit(t *testing.T) {
	dir := t.TempDir()
	for _, gen := range []int64{1700000000, 1700000100} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, InitName(gen)), []byte("same-init"), 0o600))
	}
	inits := NewInitCache()
	require.NoError(t, inits.AddSegment(filepath.Join(dir, InitName(1700000000))))
	require.NoError(t, inits.AddSegment(filepath.Join(dir, InitName(1700000100))))

	input := lines(`
#EXTM3U
#EXT-X-VERSION:7
#EXT-X-TARGETDURATION:4
#EXT-X-MAP:URI="1700000000_init.mp4"
#EXTINF:4.000000,
live_1700000000_000001.m4s
#EXT-X-DISCONTINUITY
#EXT-X-MAP:URI="1700000100_init.mp4"
#EXTINF:4.000000,
live_1700000100_000002.m4s`)

	start := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	tr := NewTrimmer(nil, inits)
	res, err := tr.Trim(TrimRequest{
		Start:           start,
		FilterBefore:    start,
		Lines:           input,
		Discontinuities: map[int64]int{1700000000: 7},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1700000000), res.GeneratedAt)
	assertPlaylist(t, `
#EXTM3U
#EXT-X-VERSION:7
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:1
#EXT-X-DISCONTINUITY-SEQUENCE:7
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-MAP:URI="1700000000_init.mp4"
#EXTINF:4.000000,
#EXT-X-PROGRAM-DATE-TIME:2024-03-01T20:00:00.000+0000
live_1700000000_000001.m4s
#EXT-X-DISCONTINUITY
#EXT-X-MAP:URI="1700000000_init.mp4"
#EXTINF:4.000000,
#EXT-X-PROGRAM-DATE-TIME:2024-03-01T20:00:04.000+0000
live_1700000100_000002.m4s
`, res.Playlist)
}

func TestTrimPlaylist_BadPlaylistIsSaved(t *testing.T) {
	dir := t.TempDir()
	tr := NewTrimmer(tempfile.New(dir, 2), nil)
	start := time.Date(2021, 10, 9, 8, 0, 0, 0, est)

	input := lines(`
#EXTM3U
#EXT-X-TARGETDURATION:4
#EXTINF:four,
live000001.ts`)
	res, err := tr.TrimPlaylist(start, start, input, 10, false)
	require.ErrorIs(t, err, ErrBadPlaylist)
	assert.True(t, res.PlaylistStart.Equal(start))
	assert.Empty(t, res.Playlist)

	saved, readErr := os.ReadFile(filepath.Join(dir, "bad_playlist_0.m3u8"))
	require.NoError(t, readErr)
	assert.Contains(t, string(saved), "#EXTINF:four,")
}

func TestParseSegmentName(t *testing.T) {
	tests := []struct {
		in   string
		want SegmentName
		ok   bool
	}{
		{"live001137.ts", SegmentName{Sequence: 1137}, true},
		{"live_1700000000_000012.m4s", SegmentName{Sequence: 12, GeneratedAt: 1700000000, FMP4: true}, true},
		{"live_1700000000.m4s", SegmentName{}, false},
		{"segment1.ts", SegmentName{}, false},
		{"liveabc.ts", SegmentName{}, false},
		{"live000001.mp4", SegmentName{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseSegmentName(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestInitName(t *testing.T) {
	assert.Equal(t, "1700000000_init.mp4", InitName(1700000000))
	gen, ok := ParseInitName("1700000000_init.mp4")
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), gen)
	_, ok = ParseInitName("init.mp4")
	assert.False(t, ok)
}
