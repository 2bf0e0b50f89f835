package upstream

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/pithecene-io/ucdsync/log"
	"github.com/pithecene-io/ucdsync/metrics"
)

func TestCrawl_WalksTreeAndStripsPrefixes(t *testing.T) {
	tree := newFakeTree()
	tree.dir("16.0.0/", "ucd/", "ReadMe.txt")
	tree.dir("16.0.0/ucd/", "UnicodeData.txt", "Blocks.txt", "auxiliary/", "emoji/")
	tree.dir("16.0.0/ucd/auxiliary/", "GraphemeBreakTest.txt")
	tree.dir("16.0.0/ucd/emoji/", "emoji-data.txt")

	res, err := NewCrawler(tree, log.NewNop(), nil).Crawl(t.Context(), "16.0.0", testBase)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	want := []string{
		"Blocks.txt",
		"ReadMe.txt",
		"UnicodeData.txt",
		"auxiliary/GraphemeBreakTest.txt",
		"emoji/emoji-data.txt",
	}
	if !reflect.DeepEqual(res.Files, want) {
		t.Errorf("Files = %v, want %v", res.Files, want)
	}
	if res.Partial() {
		t.Errorf("unexpected skipped dirs: %v", res.Skipped)
	}
}

func TestCrawl_SiblingFailureIsTolerated(t *testing.T) {
	tree := newFakeTree()
	tree.dir("15.1.0/", "ucd/")
	tree.dir("15.1.0/ucd/", "UnicodeData.txt", "broken/", "extracted/", "emoji/")
	tree.dir("15.1.0/ucd/extracted/", "DerivedAge.txt")
	tree.dir("15.1.0/ucd/emoji/", "emoji-data.txt")
	tree.fail("15.1.0/ucd/broken/", errBoom)

	collector := metrics.NewCollector("memory", "blob")
	res, err := NewCrawler(tree, log.NewNop(), collector).Crawl(t.Context(), "15.1.0", testBase)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	want := []string{"UnicodeData.txt", "emoji/emoji-data.txt", "extracted/DerivedAge.txt"}
	if !reflect.DeepEqual(res.Files, want) {
		t.Errorf("Files = %v, want %v", res.Files, want)
	}
	if len(res.Skipped) != 1 {
		t.Fatalf("Skipped = %v, want 1 entry", res.Skipped)
	}
	if res.Skipped[0].URL != testBase+"15.1.0/ucd/broken/" || !errors.Is(res.Skipped[0].Err, errBoom) {
		t.Errorf("Skipped[0] = %+v", res.Skipped[0])
	}

	snap := collector.Snapshot()
	if snap.CrawlDirsSkipped != 1 || snap.CrawlDirsVisited != 4 {
		t.Errorf("visited/skipped = %d/%d, want 4/1", snap.CrawlDirsVisited, snap.CrawlDirsSkipped)
	}
}

func TestCrawl_RootFailureIsError(t *testing.T) {
	tree := newFakeTree()
	tree.fail("14.0.0/", errBoom)

	res, err := NewCrawler(tree, nil, nil).Crawl(t.Context(), "14.0.0", testBase)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected root error, got %v", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
}

func TestCrawl_LegacyLayoutWithoutUCDFolder(t *testing.T) {
	tree := newFakeTree()
	tree.dir("3.2-Update1/", "UnicodeData-3.2.0.txt", "Unihan-3.2.0.zip")

	res, err := NewCrawler(tree, nil, nil).Crawl(t.Context(), "3.2-Update1", testBase)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	want := []string{"UnicodeData-3.2.0.txt", "Unihan-3.2.0.zip"}
	if !reflect.DeepEqual(res.Files, want) {
		t.Errorf("Files = %v, want %v", res.Files, want)
	}
}

func TestCrawl_DoesNotLeaveVersionRoot(t *testing.T) {
	tree := newFakeTree()
	tree.dir("16.0.0/", "a.txt")
	// A directory entry pointing outside the version root must be ignored.
	tree.listings[testBase+"16.0.0/"] = append(tree.listings[testBase+"16.0.0/"],
		dirEntry("15.0.0", "/Public/15.0.0/"),
		dirEntry("16.0.0", "/Public/16.0.0/"))
	tree.dir("15.0.0/", "should-not-appear.txt")

	res, err := NewCrawler(tree, nil, nil).Crawl(t.Context(), "16.0.0", testBase)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if !reflect.DeepEqual(res.Files, []string{"a.txt"}) {
		t.Errorf("Files = %v, want [a.txt]", res.Files)
	}
	if len(tree.calls) != 1 {
		t.Errorf("listed %v, want only the version root", tree.calls)
	}
}

func TestCrawl_InvalidVersion(t *testing.T) {
	_, err := NewCrawler(newFakeTree(), nil, nil).Crawl(t.Context(), "../etc", testBase)
	if err == nil {
		t.Fatal("expected error for invalid version")
	}
}

func TestCrawl_Canceled(t *testing.T) {
	tree := newFakeTree()
	tree.dir("16.0.0/", "a.txt")
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := NewCrawler(tree, nil, nil).Crawl(ctx, "16.0.0", testBase); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRelativePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/Public/16.0.0/ucd/Blocks.txt", "Blocks.txt"},
		{"/Public/16.0.0/ReadMe.txt", "ReadMe.txt"},
		{"/Public/16.0.0/ucd/emoji/emoji-data.txt", "emoji/emoji-data.txt"},
		{"/mirror/16.0.0/ucd/Blocks.txt", "Blocks.txt"},
		{"/Public/15.0.0/Blocks.txt", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := relativePath(tt.path, "/Public/16.0.0/", "16.0.0"); got != tt.want {
				t.Errorf("relativePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
