package terminal

import "context"

const helpText = `Available commands:
  cd <dir>                 change directory (~ and .. supported)
  pwd                      print working directory
  ls [-a] [-l] [path]      list directory contents
  cat <file>...            print file contents
  mkdir [-p] <dir>...      create directories
  touch <file>...          create empty files
  cp <src> <dst>           copy a file
  mv <src> <dst>           move or rename a file or directory
  rm [-r] [-f] <path>...   remove files or directories
  find [path] [-name glob] [-type f|d]
                           search for files
  grep [-i] <pattern> [file]
                           search file contents
  head/tail [-n N] <file>  first or last lines of a file
  wc <file>                line, word and character counts
  sort [-r] <file>         sort lines
  uniq <file>              drop consecutive duplicate lines
  file <path>              describe file type and encoding
  echo <text> [> file]     print text or write it to a file (>> appends)
  python <file|code>       run a Python script or inline code (-c supported)
  pip <args>               manage Python packages
  node <file|code>         run JavaScript (-e, -p supported)
  history                  show command history
  whoami                   show the current user
  clear                    clear the screen
  help                     show this help

Pipes: <command> | sort, <command> | uniq
`

func (r *Router) help(context.Context, *Invocation) *Result {
	return output(helpText)
}
