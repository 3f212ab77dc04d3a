// Package server wires the webterm components into one HTTP server.
//
// Server Lifecycle:
//  1. Open the virtual filesystem for the configured driver
//  2. Connect the Redis snapshot repository when enabled
//  3. Build the session manager, temp workspaces, process runner and hub
//  4. Create the command router with the hub as its file notifier
//  5. Register terminate hooks (close sockets, remove workspace)
//  6. Setup HTTP routes and middleware
//  7. Start the idle-session sweeper and the HTTP server
//  8. Graceful shutdown when the run context ends
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.New(ctx, cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
