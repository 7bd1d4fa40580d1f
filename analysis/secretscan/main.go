// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package main scans the bridge sources for two classes of mistakes:
// math/rand in packages that mint secrets or tickets, and log or print
// statements that may include the page secret, the IPC token, the
// passphrase or private key bytes.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Packages that generate secrets, tokens, nonces or ticket IDs
var randCriticalDirs = []string{
	"internal/auth",
	"internal/confirm",
	"internal/crypto",
	"internal/util",
	"internal/wallet",
}

var mathRandImport = regexp.MustCompile(`"math/rand(/v2)?"`)

// Identifiers that hold secret material in this codebase
const secretIdent = `(?i)(secret|passphrase|privatekey|privkey|ipctoken|token|seed|mnemonic)`

// Structured logger calls: util.Logger.Infow("msg", "k", v) and util.Debug(...)
var loggerCall = regexp.MustCompile(`(Logger\.\w+|util\.Debug|fmt\.(Print|Fprint|Sprint)\w*|log\.\w+)\(`)

// A secret identifier used as a value outside string literals
var secretValue = regexp.MustCompile(`(?:,|\()\s*[\w.]*` + secretIdent + `\w*\s*(?:[,)]|\.(String|Bytes)\(\))`)

// Values that carry the name but not the material
var safeValue = regexp.MustCompile(`(?i)(secretfile|tokenfile|keyfile|secretlength|source|len\(|path|hmac|signature)`)

type finding struct {
	file    string
	line    int
	content string
	reason  string
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: secretscan <repo-root>")
		os.Exit(1)
	}
	root := os.Args[1]

	var findings []finding
	filesChecked := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			switch filepath.Base(path) {
			case "vendor", ".git", "analysis", "_examples":
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		filesChecked++
		findings = append(findings, checkFile(path, rel)...)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error walking directory: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Secret Handling Analysis\n")
	fmt.Printf("========================\n")
	fmt.Printf("Files checked: %d\n\n", filesChecked)

	if len(findings) == 0 {
		fmt.Println("No issues found.")
		os.Exit(0)
	}
	fmt.Printf("Potential issues: %d\n\n", len(findings))
	for _, f := range findings {
		fmt.Printf("%s:%d\n", f.file, f.line)
		fmt.Printf("  Line: %s\n", strings.TrimSpace(f.content))
		fmt.Printf("  Issue: %s\n\n", f.reason)
	}
	os.Exit(1)
}

func checkFile(path, rel string) []finding {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = file.Close() }()

	critical := isRandCritical(filepath.ToSlash(rel))
	var findings []finding
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if reason := checkLine(line, critical); reason != "" {
			findings = append(findings, finding{file: rel, line: lineNum, content: line, reason: reason})
		}
	}
	return findings
}

func isRandCritical(rel string) bool {
	for _, dir := range randCriticalDirs {
		if strings.HasPrefix(rel, dir+"/") {
			return true
		}
	}
	return false
}

// checkLine returns a reason when line looks unsafe, or "".
func checkLine(line string, randCritical bool) string {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "//") {
		return ""
	}
	if randCritical && mathRandImport.MatchString(line) {
		return "math/rand import in a package that mints secrets - use crypto/rand"
	}
	if !loggerCall.MatchString(line) {
		return ""
	}
	code := stripStringLiterals(line)
	for _, m := range secretValue.FindAllString(code, -1) {
		if safeValue.MatchString(m) {
			continue
		}
		return "secret material passed to log or print output"
	}
	return ""
}

// stripStringLiterals blanks out the contents of "..." literals so key names
// in messages do not count as values.
func stripStringLiterals(line string) string {
	var b strings.Builder
	inString, escaped := false, false
	for _, ch := range line {
		switch {
		case escaped:
			escaped = false
			continue
		case ch == '\\' && inString:
			escaped = true
			continue
		case ch == '"':
			inString = !inString
			b.WriteRune(ch)
			continue
		}
		if !inString {
			b.WriteRune(ch)
		}
	}
	return b.String()
}
