// Package ws serves the terminal and file-sync WebSocket endpoints.
//
// Each socket gets one reader and one worker goroutine. The reader decodes
// JSON frames with sonic and answers control messages (ping, interrupt,
// input_response, terminal_resize) immediately, so Ctrl+C reaches a command
// that is still running. Commands and file operations are queued to the
// worker and handled in arrival order.
//
// Replies go through the connection hub rather than straight to the
// socket; a reply for a client that dropped mid-command waits until it
// reconnects with the same connection_id.
//
// Message Types (Client → Server):
//   - command, interrupt, input_response, terminal_resize (terminal only)
//   - file_update, file_request, file_list, file_delete, file_rename,
//     folder_create
//   - ping
//
// Message Types (Server → Client):
//   - connection_established, command_response, pong
//   - file_updated, file_deleted, file_renamed, folder_created
//   - file_content, file_list_response
//   - error
package ws
