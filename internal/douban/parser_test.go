// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package douban

import (
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/tomtom215/shelfsync/internal/models"
)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse test html: %v", err)
	}
	return doc
}

const movieSubjectHTML = `<html><head>
<meta property="og:title" content="让子弹飞" />
<meta property="og:image" content="https://img1.doubanio.com/view/photo/s_ratio_poster/public/p1.jpg" />
<meta property="og:url" content="https://movie.douban.com/subject/3742360/" />
</head><body>
<h1><span property="v:itemreviewed">让子弹飞</span></h1>
<strong class="rating_num" property="v:average">8.9</strong>
<a class="rating_people"><span property="v:votes">1660000</span>人评价</a>
<div id="info">
<span class="pl">导演</span>: <a rel="v:directedBy">姜文</a><br/>
<span class="pl">编剧</span>: 朱苏进 / 述平<br/>
<span class="pl">主演</span>: <a rel="v:starring">姜文</a> / <a rel="v:starring">葛优</a> / <a rel="v:starring">周润发</a><br/>
<span class="pl">类型:</span> <span property="v:genre">剧情</span> / <span property="v:genre">喜剧</span><br/>
<span class="pl">制片国家/地区:</span> 中国大陆<br/>
<span class="pl">语言:</span> 汉语普通话 / 四川话<br/>
<span class="pl">上映日期:</span> <span property="v:initialReleaseDate" content="2010-12-16">2010-12-16(中国大陆)</span> <span property="v:initialReleaseDate" content="2011-03-03">2011-03-03(中国香港)</span><br/>
<span class="pl">片长:</span> <span property="v:runtime" content="132">132分钟</span><br/>
<span class="pl">又名:</span> 让子弹飞一会儿 / Let the Bullets Fly<br/>
<span class="pl">IMDb:</span> tt1533117<br/>
</div>
<span property="v:summary">民国年间，悍匪张牧之摇身一变化名清官马邦德。

讲述了一场  惊心动魄的火并。</span>
</body></html>`

func TestParseFilm(t *testing.T) {
	p := NewParser()
	doc := mustDoc(t, movieSubjectHTML)

	entry := ListEntry{
		ExternalID: "3742360",
		Kind:       models.KindMovie,
		SubjectURL: "https://movie.douban.com/subject/3742360/",
		MarkStatus: "collect",
		MarkRating: 5,
	}

	rec, err := p.Parse(doc, entry)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"title", rec.Title, "让子弹飞"},
		{"score", rec.DoubanScore, "8.9"},
		{"votes", rec.RatingCount, "1660000"},
		{"cover", rec.CoverURL, "https://img1.doubanio.com/view/photo/s_ratio_poster/public/p1.jpg"},
		{"director", rec.Director, "姜文"},
		{"cast", rec.Cast, "姜文 / 葛优 / 周润发"},
		{"genres", rec.Genres, "剧情 / 喜剧"},
		{"region", rec.Region, "中国大陆"},
		{"language", rec.Language, "汉语普通话 / 四川话"},
		{"release date keeps all entries", rec.ReleaseDate, "2010-12-16(中国大陆) / 2011-03-03(中国香港)"},
		{"duration", rec.Duration, "132分钟"},
		{"screenwriter from labeled line", rec.Screenwriter, "朱苏进 / 述平"},
		{"imdb", rec.IMDbID, "tt1533117"},
		{"alias", rec.OrigTitle, "让子弹飞一会儿 / Let the Bullets Fly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}

	if rec.MarkStatus != "collect" || rec.MarkRating != 5 {
		t.Errorf("entry annotations not carried: status=%q rating=%d", rec.MarkStatus, rec.MarkRating)
	}
	if want := "民国年间，悍匪张牧之摇身一变化名清官马邦德。\n讲述了一场 惊心动魄的火并。"; rec.Intro != want {
		t.Errorf("intro = %q, want %q", rec.Intro, want)
	}
}

func TestParseFilmFallbacks(t *testing.T) {
	p := NewParser()

	t.Run("duration falls back to labeled line", func(t *testing.T) {
		doc := mustDoc(t, `<html><body>
<h1>公路之歌</h1>
<div id="info">
<span class="pl">导演</span>: 比目鱼<br/>
<span class="pl">片长:</span> 6分03秒<br/>
</div></body></html>`)

		rec, err := p.Parse(doc, ListEntry{ExternalID: "100", Kind: models.KindMovie})
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		if rec.Duration != "6分03秒" {
			t.Errorf("Duration = %q, want %q", rec.Duration, "6分03秒")
		}
	})

	t.Run("tv duration from 单集片长", func(t *testing.T) {
		doc := mustDoc(t, `<html><body>
<h1>沉默的真相</h1>
<div id="info">
<span class="pl">集数:</span> 12<br/>
<span class="pl">单集片长:</span> 45分钟<br/>
<span class="pl">首播:</span> 2020-09-16(中国大陆)<br/>
</div></body></html>`)

		rec, err := p.Parse(doc, ListEntry{ExternalID: "101", Kind: models.KindTV})
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		if rec.Duration != "45分钟" {
			t.Errorf("Duration = %q, want %q", rec.Duration, "45分钟")
		}
		if rec.EpisodeCount != "12" {
			t.Errorf("EpisodeCount = %q, want %q", rec.EpisodeCount, "12")
		}
		if rec.ReleaseDate != "2020-09-16(中国大陆)" {
			t.Errorf("ReleaseDate = %q, want %q", rec.ReleaseDate, "2020-09-16(中国大陆)")
		}
	})

	t.Run("title falls back through chain", func(t *testing.T) {
		doc := mustDoc(t, `<html><body><h1>裸标题</h1></body></html>`)
		rec, err := p.Parse(doc, ListEntry{ExternalID: "102", Kind: models.KindMovie})
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		if rec.Title != "裸标题" {
			t.Errorf("Title = %q, want %q", rec.Title, "裸标题")
		}
	})
}

func TestParseBook(t *testing.T) {
	p := NewParser()
	doc := mustDoc(t, `<html><head>
<meta property="og:title" content="深入理解计算机系统" />
</head><body>
<h1><span property="v:itemreviewed">深入理解计算机系统</span></h1>
<strong class="rating_num">9.5</strong>
<div id="info">
<span class="pl">作者</span>: Randal E. Bryant / David R. O'Hallaron<br/>
<span class="pl">译者</span>: 龚奕利<br/>
<span class="pl">出版社:</span> 机械工业出版社<br/>
<span class="pl">原作名:</span> Computer Systems: A Programmer's Perspective<br/>
<span class="pl">出版年:</span> 2016-11<br/>
<span class="pl">页数:</span> 737<br/>
<span class="pl">定价:</span> CNY 139.00<br/>
<span class="pl">ISBN:</span> 9787111544937<br/>
</div></body></html>`)

	rec, err := p.Parse(doc, ListEntry{ExternalID: "26912767", Kind: models.KindBook})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"author", rec.Author, "Randal E. Bryant / David R. O'Hallaron"},
		{"translator", rec.Translator, "龚奕利"},
		{"publisher", rec.Publisher, "机械工业出版社"},
		{"pub date", rec.PubDate, "2016-11"},
		{"pages", rec.Pages, "737"},
		{"price", rec.Price, "CNY 139.00"},
		{"isbn", rec.ISBN, "9787111544937"},
		{"original title", rec.OrigTitle, "Computer Systems: A Programmer's Perspective"},
		{"score without microdata", rec.DoubanScore, "9.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseExternalID(t *testing.T) {
	p := NewParser()

	t.Run("resolved from og:url when entry has none", func(t *testing.T) {
		doc := mustDoc(t, `<html><head>
<meta property="og:url" content="https://movie.douban.com/subject/1292052/" />
</head><body><h1>肖申克的救赎</h1></body></html>`)

		rec, err := p.Parse(doc, ListEntry{Kind: models.KindMovie})
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		if rec.ExternalID != "1292052" {
			t.Errorf("ExternalID = %q, want %q", rec.ExternalID, "1292052")
		}
		if rec.SubjectURL != "https://movie.douban.com/subject/1292052/" {
			t.Errorf("SubjectURL = %q", rec.SubjectURL)
		}
	})

	t.Run("resolved from canonical link", func(t *testing.T) {
		doc := mustDoc(t, `<html><head>
<link rel="canonical" href="https://book.douban.com/subject/2567698/" />
</head><body><h1>书</h1></body></html>`)

		rec, err := p.Parse(doc, ListEntry{Kind: models.KindBook})
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		if rec.ExternalID != "2567698" {
			t.Errorf("ExternalID = %q, want %q", rec.ExternalID, "2567698")
		}
	})

	t.Run("unresolvable returns ErrParseIncomplete", func(t *testing.T) {
		doc := mustDoc(t, `<html><body><h1>无名页面</h1></body></html>`)
		_, err := p.Parse(doc, ListEntry{Kind: models.KindMovie})
		if !errors.Is(err, models.ErrParseIncomplete) {
			t.Fatalf("err = %v, want ErrParseIncomplete", err)
		}
	})
}

func TestStripLabel(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		label  string
		want   string
		wantOK bool
	}{
		{"ascii colon", "片长: 132分钟", "片长", "132分钟", true},
		{"fullwidth colon", "片长： 132分钟", "片长", "132分钟", true},
		{"no colon", "片长 132分钟", "片长", "132分钟", true},
		{"different label", "导演: 姜文", "片长", "", false},
		{"label only", "片长:", "片长", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := stripLabel(tt.line, tt.label)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("stripLabel(%q, %q) = (%q, %v), want (%q, %v)",
					tt.line, tt.label, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestInfoLines(t *testing.T) {
	doc := mustDoc(t, `<html><body><div id="info">
<span class="pl">导演</span>: <a>姜文</a><br/>
<span class="pl">片长:</span>   132分钟  <br/>
</div></body></html>`)

	lines := infoLines(doc)
	want := []string{"导演: 姜文", "片长: 132分钟"}
	if len(lines) != len(want) {
		t.Fatalf("infoLines() = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}
