package ws

import (
	"context"

	"github.com/GriffinCanCode/webterm/internal/domain/connection"
	"github.com/GriffinCanCode/webterm/internal/shared/paths"
	"github.com/GriffinCanCode/webterm/internal/shared/utils"
)

// fileOp serves editor file messages. Changes are broadcast to every
// connection of the session; reads reply to the sender only.
func (cl *client) fileOp(ctx context.Context, msg Inbound) {
	if cl.h.files == nil {
		cl.reply(connection.ErrorMessage(CodeStoreError, "file service not available"))
		return
	}

	sid := cl.conn.SessionID
	switch msg.Type {
	case TypeFileUpdate:
		if msg.Filename == "" || msg.Content == nil {
			cl.reply(connection.ErrorMessage(CodeInvalidMessage, "filename and content are required"))
			return
		}
		if err := utils.ValidateContent(*msg.Content); err != nil {
			cl.reply(connection.ErrorMessage(CodeInvalidMessage, err.Error()))
			return
		}
		if msg.Language != "" {
			if err := utils.ValidateLanguage(msg.Language); err != nil {
				cl.reply(connection.ErrorMessage(CodeInvalidMessage, err.Error()))
				return
			}
		}
		name, ok := cl.path(msg.Filename, "filename")
		if !ok {
			return
		}
		f, err := cl.h.files.SaveFile(ctx, sid, name, *msg.Content, msg.Language)
		if err != nil {
			cl.reply(storeError(err))
			return
		}
		cl.h.hub.FileUpdated(sid, cl.actor(), f)

	case TypeFileRequest:
		name, ok := cl.path(msg.Filename, "filename")
		if !ok {
			return
		}
		f, err := cl.h.files.GetFileContent(ctx, sid, name)
		if err != nil {
			cl.reply(storeError(err))
			return
		}
		cl.reply(connection.NewMessage(connection.TypeFileContent).
			With("filename", f.Path).
			With("content", f.Content).
			With("language", f.Language).
			With("size", f.Size).
			With("checksum", f.Checksum))

	case TypeFileList:
		dir := paths.Root
		if msg.Directory != "" {
			var ok bool
			if dir, ok = cl.path(msg.Directory, "directory"); !ok {
				return
			}
		}
		files, err := cl.h.files.GetFiles(ctx, sid, dir)
		if err != nil {
			cl.reply(storeError(err))
			return
		}
		cl.reply(connection.NewMessage(connection.TypeFileListResponse).
			With("files", files).
			With("directory", dir))

	case TypeFileDelete:
		name, ok := cl.path(msg.Filename, "filename")
		if !ok {
			return
		}
		if paths.IsRoot(name) {
			cl.reply(connection.ErrorMessage(CodeInvalidPath, "cannot delete the root directory"))
			return
		}
		if err := cl.h.files.DeleteFile(ctx, sid, name); err != nil {
			cl.reply(storeError(err))
			return
		}
		cl.h.hub.FileDeleted(sid, cl.actor(), name)

	case TypeFileRename:
		from, ok := cl.path(msg.OldFilename, "old_filename")
		if !ok {
			return
		}
		to, ok := cl.path(msg.NewFilename, "new_filename")
		if !ok {
			return
		}
		if err := cl.h.files.RenameFile(ctx, sid, from, to); err != nil {
			cl.reply(storeError(err))
			return
		}
		cl.h.hub.FileRenamed(sid, cl.actor(), from, to)

	case TypeFolderCreate:
		if msg.Foldername == "" {
			cl.reply(connection.ErrorMessage(CodeInvalidMessage, "foldername is required"))
			return
		}
		parent := paths.Root
		if msg.ParentPath != "" {
			var ok bool
			if parent, ok = cl.path(msg.ParentPath, "parent_path"); !ok {
				return
			}
		}
		full, err := cl.h.files.CreateFolder(ctx, sid, msg.Foldername, parent)
		if err != nil {
			cl.reply(storeError(err))
			return
		}
		cl.h.hub.FolderCreated(sid, cl.actor(), msg.Foldername, full, parent)
	}
}

// path validates a client path and makes it absolute. Relative paths are
// taken from the root, not the terminal's cwd.
func (cl *client) path(p, field string) (string, bool) {
	if err := utils.ValidatePath(p, field); err != nil {
		cl.reply(connection.ErrorMessage(CodeInvalidPath, err.Error()))
		return "", false
	}
	return paths.Normalize(p), true
}
