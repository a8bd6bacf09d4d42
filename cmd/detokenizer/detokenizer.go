package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/wbrown/token_stream"
	"github.com/wbrown/token_stream/types"
)

type detokenizeFlags struct {
	tokenizer string
	input     string
	output    string
	batchSize int
	seqLen    int
	uint32    bool
}

func newRootCmd() *cobra.Command {
	flags := &detokenizeFlags{}
	cmd := &cobra.Command{
		Use:   "detokenizer",
		Short: "Decode a window chunk file back into text",
		Long: `Reads a chunk file written by dataset_streamer and prints each
window's draw as text, one block per window.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetokenize(cmd, flags)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&flags.tokenizer, "tokenizer", "gpt2",
		"tokenizer id [gpt2, pile, clip, huggingface-id]")
	fs.StringVar(&flags.input, "input", "", "chunk file to decode")
	fs.StringVar(&flags.output, "output", "-",
		"file to write decoded text to, - for stdout")
	fs.IntVarP(&flags.batchSize, "batch-size", "b", 8, "rows per window")
	fs.IntVarP(&flags.seqLen, "seq-len", "t", 1024, "tokens per row")
	fs.BoolVar(&flags.uint32, "uint32", false,
		"input holds 32-bit tokens")
	cmd.MarkFlagRequired("input")
	return cmd
}

// ReadWindows
// Splits a chunk file's tokens into windows of `batchSize*seqLen+1`
// tokens. A trailing partial window is an error.
func ReadWindows(reader io.Reader, batchSize int, seqLen int,
	useUint32 bool) ([]*types.Window, error) {
	if batchSize < 1 || seqLen < 1 {
		return nil, fmt.Errorf("batch size %d and sequence length %d must "+
			"be positive", batchSize, seqLen)
	}
	bin, readErr := io.ReadAll(reader)
	if readErr != nil {
		return nil, readErr
	}
	var tokens *types.Tokens
	if useUint32 {
		tokens = types.TokensFromBin32(&bin)
	} else {
		tokens = types.TokensFromBin(&bin)
	}
	drawSize := batchSize*seqLen + 1
	if len(*tokens)%drawSize != 0 {
		return nil, fmt.Errorf("%d tokens is not a whole number of %d "+
			"token windows", len(*tokens), drawSize)
	}
	windows := make([]*types.Window, 0, len(*tokens)/drawSize)
	for begin := 0; begin < len(*tokens); begin += drawSize {
		windows = append(windows, types.NewWindow((*tokens)[begin:],
			batchSize, seqLen))
	}
	return windows, nil
}

func runDetokenize(cmd *cobra.Command, flags *detokenizeFlags) error {
	tokenizer, tokErr := token_stream.NewGPTTokenizer(flags.tokenizer)
	if tokErr != nil {
		return tokErr
	}
	input, openErr := os.Open(flags.input)
	if openErr != nil {
		return openErr
	}
	defer input.Close()
	windows, readErr := ReadWindows(bufio.NewReader(input), flags.batchSize,
		flags.seqLen, flags.uint32)
	if readErr != nil {
		return readErr
	}

	output := cmd.OutOrStdout()
	if flags.output != "-" {
		outputFile, createErr := os.Create(flags.output)
		if createErr != nil {
			return createErr
		}
		defer outputFile.Close()
		output = outputFile
	}
	for windowIdx, window := range windows {
		if _, err := fmt.Fprintf(output, "=== window %d ===\n%s\n",
			windowIdx, tokenizer.Decode(window.Draw())); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
