// Package checkpoint stores reprocessing progress as JSON files.
//
// Each unit gets units/<id>.checkpoint.json and each links file gets
// files/<name>.checkpoint.json under the checkpoint directory. Writes go to a
// temporary file that is synced and renamed into place, so an interrupted run
// finds either the previous checkpoint or the new one, never a partial file.
//
// Without an explicit directory checkpoints live under
// $XDG_DATA_HOME/reprocessor/checkpoints, or ~/.local/share/reprocessor when
// XDG_DATA_HOME is unset.
package checkpoint
