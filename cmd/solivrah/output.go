package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

func okMark() string   { return color.GreenString("✓") }
func warnMark() string { return color.YellowString("⚠") }

func printStatus(w io.Writer, label string, value any, attr color.Attribute) {
	fmt.Fprintf(w, "%-12s %s\n", label+":", color.New(attr).Sprint(value))
}

func printWarning(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", warnMark(), fmt.Sprintf(format, args...))
}
