package mcpserver

// BlockFormatContract describes the canonical block content format and the
// proposal rules that LLM consumers must follow when proposing edits.
const BlockFormatContract = `# Muninn Block Format Contract

Every memory block stored in Muninn holds TOML content typed by its label's
schema. Agents never write blocks directly: every change is proposed as a
diff and applied only after human approval.

## Content format

` + "```" + `toml
summary = "One or more sentences about the owner."
goals = ["first goal", "second goal"]

[preferences]
tone = "casual"
` + "```" + `

## Rules

1. **Values are strings, lists of strings, or nested tables.** Booleans are
   allowed; numbers and dates are carried as strings.
2. **Keys are lowercase snake_case** and must be declared by the block's
   schema. Undeclared keys are rejected on apply.
3. **Arrays of tables (` + "`" + `[[x]]` + "`" + `) are not supported.**
4. **Owner ids and block labels** are lowercase names matching
   ` + "`" + `[a-z0-9][a-z0-9_-]*` + "`" + `.

## Proposing edits

Use the ` + "`" + `propose_edit` + "`" + ` tool with a ` + "`" + `strategy` + "`" + `. Every proposal needs a
non-empty ` + "`" + `reasoning` + "`" + ` explaining why the change should happen; the human
reviewer reads it before deciding.

- **replace** – quote the EXACT current text in ` + "`" + `old_content` + "`" + ` (copy it from
  ` + "`" + `read_block` + "`" + ` output, byte for byte). Only the first occurrence is
  replaced. If the block changes before approval, the apply fails and the
  human sees why. Never guess the snippet.
- **append** – adds ` + "`" + `content` + "`" + ` at the end of the block, or to the field
  named by ` + "`" + `field` + "`" + ` (new list item for list fields, newline-joined for
  string fields). Appending to a table field is rejected; target one of its
  sub-fields like ` + "`" + `preferences.tone` + "`" + `.
- **full_replace** – replaces the entire block (or field) content. Use it
  only for wholesale rewrites; prefer replace for anything surgical.

Set ` + "`" + `confidence` + "`" + ` to low, medium, or high. It is informational only but
helps the reviewer triage.

## Reading before writing

Always call ` + "`" + `read_block` + "`" + ` immediately before proposing a replace so that
` + "`" + `old_content` + "`" + ` quotes the live content. Stale snippets fail on apply.
`
