package cli

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asktra/asktra/internal/llm/types"
	"github.com/asktra/asktra/internal/reasoning/engine"
)

type askOptions struct {
	sources   []string
	prior     string
	priorFile string
	image     string
	stream    bool
	output    string
}

func newAskCmd(a *app) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Ask a causal question against the local dataset",
		Example: `  asktra ask "Why does SSO fail after upgrading?"
  asktra ask --sources chat,commits --stream "Why was the token TTL shortened?"
  asktra ask --image screenshot.png -o yaml "What does this error mean?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(opts.output); err != nil {
				return err
			}
			req, err := opts.request(strings.Join(args, " "))
			if err != nil {
				return err
			}

			sess, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			if !opts.stream {
				res, err := sess.reasoner.Run(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printOutput(cmd.OutOrStdout(), opts.output, res)
			}

			for ev := range sess.reasoner.Stream(cmd.Context(), req) {
				switch ev.Kind {
				case engine.EventProgress:
					fmt.Fprintln(cmd.ErrOrStderr(), ev.Message)
				case engine.EventError:
					return fmt.Errorf("%s (%s)", ev.Error, ev.ErrorKind)
				case engine.EventResult:
					return printOutput(cmd.OutOrStdout(), opts.output, ev.Result)
				}
			}
			return cmd.Context().Err()
		},
	}

	cmd.Flags().StringSliceVar(&opts.sources, "sources", nil, "evidence sources to include (chat, commits, issues, docs, release_notes or all)")
	cmd.Flags().StringVar(&opts.prior, "prior", "", "prior context from earlier in the session")
	cmd.Flags().StringVar(&opts.priorFile, "prior-file", "", "read prior context from a file")
	cmd.Flags().StringVar(&opts.image, "image", "", "attach an image (png, jpeg, webp, gif)")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "print progress to stderr while reasoning")
	cmd.Flags().StringVarP(&opts.output, "output", "o", outputJSON, "output format: json|yaml")
	return cmd
}

func (o *askOptions) request(query string) (engine.Request, error) {
	req := engine.Request{
		Query:          query,
		IncludeSources: o.sources,
		PriorContext:   o.prior,
	}
	if o.priorFile != "" {
		data, err := os.ReadFile(o.priorFile)
		if err != nil {
			return req, fmt.Errorf("read prior context: %w", err)
		}
		req.PriorContext = strings.TrimSpace(req.PriorContext + "\n" + string(data))
	}
	if o.image != "" {
		image, err := readImage(o.image)
		if err != nil {
			return req, err
		}
		req.Image = image
	}
	return req, nil
}

// readImage loads an image attachment, taking the MIME type from the file
// extension or, failing that, from the content.
func readImage(path string) (*types.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%s is not an image (detected %s)", path, mimeType)
	}
	return &types.Image{Data: data, MIMEType: mimeType}, nil
}
