package ws

import (
	"errors"

	"github.com/GriffinCanCode/webterm/internal/domain/connection"
	"github.com/GriffinCanCode/webterm/internal/vfs"
)

// Inbound message types
const (
	TypeCommand        = "command"
	TypePing           = "ping"
	TypeTerminalResize = "terminal_resize"
	TypeFileUpdate     = "file_update"
	TypeFileRequest    = "file_request"
	TypeFileList       = "file_list"
	TypeFileDelete     = "file_delete"
	TypeFileRename     = "file_rename"
	TypeFolderCreate   = "folder_create"
	TypeInputResponse  = "input_response"
	TypeInterrupt      = "interrupt"
)

// Error codes sent in error messages
const (
	CodeInvalidMessage     = "INVALID_MESSAGE"
	CodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	CodeUnsupported        = "UNSUPPORTED_MESSAGE"
	CodeFileNotFound       = "FILE_NOT_FOUND"
	CodeFileExists         = "FILE_EXISTS"
	CodeInvalidPath        = "INVALID_PATH"
	CodeStoreError         = "STORE_ERROR"
	CodeNoRunningProcess   = "NO_RUNNING_PROCESS"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
)

// Inbound is the union of every client message's fields
type Inbound struct {
	Type string `json:"type"`

	// command
	Command          string `json:"command,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`

	// file_*
	Filename    string  `json:"filename,omitempty"`
	Content     *string `json:"content,omitempty"`
	Language    string  `json:"language,omitempty"`
	Directory   string  `json:"directory,omitempty"`
	OldFilename string  `json:"old_filename,omitempty"`
	NewFilename string  `json:"new_filename,omitempty"`
	Foldername  string  `json:"foldername,omitempty"`
	ParentPath  string  `json:"parent_path,omitempty"`

	// input_response
	Input string `json:"input,omitempty"`

	// terminal_resize
	Cols int `json:"cols,omitempty"`
	Rows int `json:"rows,omitempty"`
}

// control messages are answered on the read loop so they can reach a
// command that is still running
func isControl(typ string) bool {
	switch typ {
	case TypePing, TypeInterrupt, TypeInputResponse, TypeTerminalResize:
		return true
	}
	return false
}

func isFileMessage(typ string) bool {
	switch typ {
	case TypeFileUpdate, TypeFileRequest, TypeFileList, TypeFileDelete, TypeFileRename, TypeFolderCreate:
		return true
	}
	return false
}

// storeError maps a store failure onto an error message
func storeError(err error) connection.Message {
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		return connection.ErrorMessage(CodeFileNotFound, "File not found")
	case errors.Is(err, vfs.ErrExists):
		return connection.ErrorMessage(CodeFileExists, "File already exists")
	case errors.Is(err, vfs.ErrInvalidPath), errors.Is(err, vfs.ErrIsDirectory):
		return connection.ErrorMessage(CodeInvalidPath, err.Error())
	default:
		return connection.ErrorMessage(CodeStoreError, "Storage operation failed").With("details", err.Error())
	}
}
