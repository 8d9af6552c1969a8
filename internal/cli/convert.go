package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simp-lee/epubflat"
)

var (
	convertTitle       string
	convertOutDir      string
	convertAssetPrefix string
	convertOutput      string
	convertTemplate    string
)

var convertCmd = &cobra.Command{
	Use:   "convert <file.epub>",
	Short: "Convert an ePub into a single HTML page",
	Long: `Convert an ePub into a single HTML page.

The archive is published to <out-dir>/<archive-name>/ with index.html next to
the extracted assets. The path of index.html is printed unless --output is
given, in which case the link-processed page is written there ("-" for stdout).

Examples:
  epubflat convert book.epub
  epubflat convert book.epub --title "My Book" --out-dir ./site
  epubflat convert book.epub --asset-prefix /static -o page.html`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVar(&convertTitle, "title", "", "display title (default: package title or archive name)")
	convertCmd.Flags().StringVar(&convertOutDir, "out-dir", "", "output root (default: output_root from config)")
	convertCmd.Flags().StringVar(&convertAssetPrefix, "asset-prefix", "", "URL prefix the output root is served under (default: asset_base_url from config)")
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", `write the processed page to this file ("-" for stdout)`)
	convertCmd.Flags().StringVar(&convertTemplate, "template", "", "page template file (default: template from config or built-in)")

	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	archivePath := args[0]
	if _, err := os.Stat(archivePath); err != nil {
		return fmt.Errorf("archive not found: %s", archivePath)
	}

	c := *cfg
	if convertOutDir != "" {
		c.OutputRoot = convertOutDir
	}
	if cmd.Flags().Changed("asset-prefix") {
		c.AssetBaseURL = convertAssetPrefix
	}
	if convertTemplate != "" {
		c.Template = convertTemplate
	}

	opts, err := converterOptions(&c)
	if err != nil {
		return err
	}

	res, err := epubflat.NewConverter(opts).Convert(cmd.Context(), archivePath, convertTitle)
	if err != nil {
		return err
	}
	logger.Info("converted",
		zap.String("archive", archivePath),
		zap.String("index", res.IndexPath),
		zap.Int("entries", res.Entries),
		zap.Int("blocks", res.Blocks),
	)

	switch convertOutput {
	case "":
		fmt.Fprintln(cmd.OutOrStdout(), res.IndexPath)
	case "-":
		fmt.Fprint(cmd.OutOrStdout(), res.HTML)
	default:
		if err := os.WriteFile(convertOutput, []byte(res.HTML), 0644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	return nil
}
