// cmd/circulation/desk.go
package main

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"libracheck/internal/clients"
	"libracheck/internal/evidence"
)

var flagServer string

// deskCmd drives a running service the way a library desk would.
var deskCmd = &cobra.Command{
	Use:   "desk",
	Short: "Borrow and return books through a running service",
}

var deskBorrowCmd = &cobra.Command{
	Use:   "borrow STUDENT_ID COPY_ID [PHOTO...]",
	Short: "Borrow a copy, optionally attaching condition photos",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		studentID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid student ID: %w", err)
		}
		copyID, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid copy ID: %w", err)
		}
		images, err := readPhotos(args[2:])
		if err != nil {
			return err
		}

		c := apiClient()
		rec, err := c.Borrow(cmd.Context(), studentID, copyID, nil)
		if err != nil {
			return err
		}
		if len(images) > 0 {
			if rec, err = c.AttachBorrowEvidence(cmd.Context(), rec.ID, images); err != nil {
				return err
			}
		}
		return printJSON(cmd, rec)
	},
}

var deskReturnCmd = &cobra.Command{
	Use:   "return STUDENT_NUMBER COPY_ID [PHOTO...]",
	Short: "Return a copy with condition photos",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		copyID, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid copy ID: %w", err)
		}
		images, err := readPhotos(args[2:])
		if err != nil {
			return err
		}

		rec, err := apiClient().Return(cmd.Context(), args[0], copyID, images)
		if err != nil {
			return err
		}
		return printJSON(cmd, rec)
	},
}

func init() {
	deskCmd.PersistentFlags().StringVar(&flagServer, "server", "", "Service base URL (default: http://localhost:<server.port>)")
	deskCmd.AddCommand(deskBorrowCmd, deskReturnCmd)
	rootCmd.AddCommand(deskCmd)
}

func apiClient() *clients.APIClient {
	server := flagServer
	if server == "" {
		server = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	return clients.NewAPIClient(server, 2*time.Minute)
}

func readPhotos(paths []string) ([]evidence.Image, error) {
	images := make([]evidence.Image, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read photo: %w", err)
		}
		images = append(images, evidence.Image{
			Filename:    filepath.Base(p),
			ContentType: mime.TypeByExtension(filepath.Ext(p)),
			Data:        data,
		})
	}
	return images, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
