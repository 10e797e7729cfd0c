package decoder

// ParsePdfInfoOutputForTest exposes parsePdfInfoOutput for tests in external package.
func ParsePdfInfoOutputForTest(s string) (int, error) { return parsePdfInfoOutput(s) }

// BuildGhostscriptArgsForTest exposes buildGhostscriptArgs.
func BuildGhostscriptArgsForTest(dpi, page int, outPath, pdfPath string) []string {
	return buildGhostscriptArgs(dpi, page, outPath, pdfPath)
}
