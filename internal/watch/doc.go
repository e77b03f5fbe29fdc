// Package watch turns filesystem changes under the storage path into
// notifications/resources/list_changed events for connected clients.
//
// It runs only in development and uvx modes with use_file_watcher enabled.
package watch
