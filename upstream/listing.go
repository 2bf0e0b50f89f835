package upstream

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/pithecene-io/ucdsync/types"
)

// listingTimeLayout is the last-modified format of Apache autoindex pages.
const listingTimeLayout = "2006-01-02 15:04"

var listingTimePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}`)

// ParseListing parses an Apache-style autoindex page served at dirURL.
// Sort links, parent links and links leaving the directory are skipped.
// A trailing slash on the href marks a directory.
func ParseListing(r io.Reader, dirURL string) ([]types.DirectoryEntry, error) {
	base, err := url.Parse(dirURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url %q: %w", dirURL, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	var (
		entries []types.DirectoryEntry
		seen    = make(map[string]struct{})
		cur     *pendingLink
		inLink  bool
	)
	flush := func() {
		if cur == nil {
			return
		}
		if e := cur.entry(base); e != nil {
			if _, dup := seen[e.EntryPath()]; !dup {
				seen[e.EntryPath()] = struct{}{}
				entries = append(entries, e)
			}
		}
		cur = nil
	}

	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				flush()
				return entries, nil
			}
			return nil, fmt.Errorf("parse listing %s: %w", dirURL, z.Err())

		case html.StartTagToken:
			tok := z.Token()
			switch tok.Data {
			case "a":
				flush()
				for _, attr := range tok.Attr {
					if attr.Key == "href" {
						cur = &pendingLink{href: attr.Val}
						inLink = true
					}
				}
			case "tr":
				flush()
			}

		case html.EndTagToken:
			tok := z.Token()
			if tok.Data == "a" {
				inLink = false
			}

		case html.TextToken:
			if cur == nil {
				continue
			}
			text := string(z.Text())
			if inLink {
				cur.text += text
			} else {
				cur.trailing.WriteString(text)
			}
		}
	}
}

type pendingLink struct {
	href     string
	text     string
	trailing strings.Builder
}

// entry resolves the link against base, returning nil for links that do
// not name a child of the listed directory.
func (p *pendingLink) entry(base *url.URL) types.DirectoryEntry {
	href := strings.TrimSpace(p.href)
	if href == "" || strings.HasPrefix(href, "?") || strings.HasPrefix(href, "#") {
		return nil
	}
	if strings.EqualFold(strings.TrimSpace(p.text), "Parent Directory") {
		return nil
	}

	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	abs := base.ResolveReference(ref)
	if abs.Host != base.Host || abs.Scheme != base.Scheme {
		return nil
	}

	rel, ok := strings.CutPrefix(abs.Path, base.Path)
	if !ok || rel == "" {
		return nil
	}
	isDir := strings.HasSuffix(rel, "/")
	rel = strings.TrimSuffix(rel, "/")
	if rel == "" || strings.Contains(rel, "/") {
		return nil
	}

	var modified *time.Time
	if m := listingTimePattern.FindString(p.trailing.String()); m != "" {
		if ts, err := time.Parse(listingTimeLayout, m); err == nil {
			modified = &ts
		}
	}

	entryPath := path.Join(base.Path, rel)
	if isDir {
		return types.Directory{Name: rel, Path: entryPath + "/", LastModified: modified}
	}
	return types.File{Name: rel, Path: entryPath, LastModified: modified}
}
