package mcpserver

// PostFormatContract describes the post format that LLM consumers must
// follow when creating or updating posts.
const PostFormatContract = `# postvault Post Format Contract

Every post is a Markdown file with TOML front matter. Posts usually live in a
page bundle: a directory holding ` + "`index.md`" + ` plus its resources
(for example ` + "`cover.png`" + `).

## Structure

` + "```" + `markdown
+++
date = 2025-03-14T09:30:00+09:00   # REQUIRED - timestamp with offset
draft = false                       # OPTIONAL - boolean
title = "Human-readable title"      # REQUIRED - non-empty string
summaryLength = 30                  # OPTIONAL - non-negative integer, words in auto summary
tags = ["go", "blog"]               # OPTIONAL - array of strings, duplicates collapse

[cover]                             # OPTIONAL
image = "cover.png"                 # path to the cover image
alt = "Human-readable title"        # accessibility text
relative = true                     # resolve image next to the post
hidden = false                      # hide the cover in listings
+++

Teaser paragraph shown in listings.

<!--more-->

Rest of the body. A claim with a source [1].

[1]: https://example.com/source
` + "```" + `

## Rules

1. The first line is exactly ` + "`+++`" + ` and a later line exactly ` + "`+++`" + ` closes the
   front matter. No other line may be exactly ` + "`+++`" + `.
2. Front matter is TOML. ` + "`title`" + ` and ` + "`date`" + ` are required.
3. ` + "`date`" + ` is a TOML datetime or an RFC 3339 string and carries a UTC offset.
4. ` + "`draft`" + `, ` + "`cover.relative`" + ` and ` + "`cover.hidden`" + ` are booleans, never strings.
5. ` + "`summaryLength`" + ` is a non-negative integer. Without a summary break the
   summary is the first ` + "`summaryLength`" + ` words (CJK characters count as one word each).
6. ` + "`tags`" + ` is an array of strings.
7. At most one ` + "`<!--more-->`" + ` line. When present, the text before it is the teaser
   and must not be empty.
8. Every numbered citation like ` + "`[1]`" + ` needs a link definition ` + "`[1]: https://...`" + `,
   conventionally at the end of the body.
9. When ` + "`cover.relative`" + ` is true the image must exist in the post's directory. Use
   the ` + "`upload_cover`" + ` tool to place it there.
10. File paths end with ` + "`.md`" + `, use forward slashes and are UTF-8 with a trailing newline.

Use ` + "`validate_post`" + ` to check a document before creating it.
`
