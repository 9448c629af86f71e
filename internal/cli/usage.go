package cli

import "fmt"

const ShortDescription = "Telegram MTProto obfuscated proxy"

func Usage(progname, fullVersion string) string {
	return fmt.Sprintf(
		"usage: %s [flags] <config-file>\n%s\n\t%s\n\n%s",
		progname,
		fullVersion,
		ShortDescription,
		FlagUsage(),
	)
}
