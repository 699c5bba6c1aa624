package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/peer-tracker/internal/protocol"
	"github.com/rudransh-shrivastava/peer-tracker/internal/tracker"
)

var quiet bool

var uploadCmd = &cobra.Command{
	Use:   "upload file-path",
	Short: "upload a torrent file to the tracker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var progress io.Writer = os.Stderr
		if quiet {
			progress = io.Discard
		}

		res, err := uploadFile(cmd.Context(), trackerURL, args[0], progress)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("upload rejected: %s", res.Error)
		}

		fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(res.Message))
		return nil
	},
}

func init() {
	uploadCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not show a progress bar")
}

// uploadFile streams the file at path to the tracker's upload endpoint,
// drawing a progress bar on progress.
func uploadFile(ctx context.Context, base, path string, progress io.Writer) (protocol.UploadResult, error) {
	var res protocol.UploadResult

	target, err := endpoint(base, "/upload-torrent")
	if err != nil {
		return res, err
	}

	f, err := os.Open(path)
	if err != nil {
		return res, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return res, err
	}

	bar := progressbar.NewOptions64(info.Size(),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("uploading "+filepath.Base(path)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile(tracker.UploadField, filepath.Base(path))
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(io.MultiWriter(part, bar), f); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
	if err != nil {
		_ = pr.Close()
		return res, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return res, fmt.Errorf("uploading to %s: %w", target, err)
	}
	defer resp.Body.Close()
	_ = bar.Finish()

	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, fmt.Errorf("decoding upload response (%s): %w", resp.Status, err)
	}
	return res, nil
}
