package common

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type CIResult struct {
	Success bool     `json:"success"`
	Title   string   `json:"title"`
	Details []string `json:"details,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// PrintCIResult writes a single JSON line to stdout for machine consumers.
func PrintCIResult(success bool, title string, details []string, err error) {
	WriteCIResult(os.Stdout, success, title, details, err)
}

func WriteCIResult(w io.Writer, success bool, title string, details []string, err error) {
	res := CIResult{Success: success, Title: title, Details: details}
	if err != nil {
		res.Error = err.Error()
	}
	b, mErr := json.Marshal(res)
	if mErr != nil {
		fmt.Fprintf(w, `{"success":false,"title":%q,"error":%q}`+"\n", title, mErr.Error())
		return
	}
	fmt.Fprintln(w, string(b))
}
