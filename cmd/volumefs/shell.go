package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dargueta/volumefs"
	"github.com/dargueta/volumefs/disks"
	"github.com/dargueta/volumefs/workspace"
	shlex "github.com/flynn-archive/go-shlex"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// contentTerminator ends the text captured by `createfile`.
const contentTerminator = "EOF"

// lineReader is satisfied by [readline.Instance] and [scriptReader].
type lineReader interface {
	Readline() (string, error)
}

type promptSetter interface {
	SetPrompt(prompt string)
}

// scriptReader feeds the shell from a non-interactive stream.
type scriptReader struct {
	scanner *bufio.Scanner
}

func newScriptReader(r io.Reader) *scriptReader {
	return &scriptReader{scanner: bufio.NewScanner(r)}
}

func (r *scriptReader) Readline() (string, error) {
	if r.scanner.Scan() {
		return r.scanner.Text(), nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

type Shell struct {
	ws     *workspace.Workspace
	input  lineReader
	out    io.Writer
	logger *zap.Logger
}

func NewShell(ws *workspace.Workspace, input lineReader, out io.Writer, logger *zap.Logger) *Shell {
	return &Shell{
		ws:     ws,
		input:  input,
		out:    out,
		logger: logger.With(zap.String("session", uuid.NewString())),
	}
}

func (r *runtime) runShell(c *cli.Context) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return NewShell(r.ws, newScriptReader(c.App.Reader), c.App.Writer, r.logger).Run()
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "volumefs> ",
		HistoryFile:     r.cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return volumefs.ErrIOFailed.Wrap(err)
	}
	defer rl.Close()

	fmt.Fprintln(rl.Stdout(), "volumefs shell. Type `help` for a list of commands.")
	return NewShell(r.ws, rl, rl.Stdout(), r.logger).Run()
}

func (s *Shell) prompt() string {
	volume, err := s.ws.Active()
	if err != nil {
		return "volumefs> "
	}
	return fmt.Sprintf("volumefs %s:%s> ", s.ws.ActiveName(), volume.WorkingPath())
}

func (s *Shell) setPrompt(prompt string) {
	if setter, ok := s.input.(promptSetter); ok {
		setter.SetPrompt(prompt)
	}
}

// Run reads and executes lines until `exit` or the end of input. Command
// errors are printed and don't stop the shell.
func (s *Shell) Run() error {
	for {
		s.setPrompt(s.prompt())
		line, err := s.input.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return volumefs.ErrIOFailed.Wrap(err)
		}

		quit, err := s.Execute(line)
		if err != nil {
			fmt.Fprintf(s.out, "error: %s\n", oneLine(err))
		}
		if quit {
			return nil
		}
	}
}

// Execute runs a single command line. It returns true if the shell should
// stop.
func (s *Shell) Execute(line string) (bool, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return false, volumefs.ErrInvalidArgument.Wrap(err)
	}
	if len(args) == 0 || strings.HasPrefix(args[0], "#") {
		return false, nil
	}

	name := args[0]
	if name == "exit" || name == "quit" {
		return true, nil
	}
	command, ok := shellCommands[name]
	if !ok {
		return false, volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("unknown command %q, try `help`", name))
	}

	args = args[1:]
	if len(args) < command.minArgs || (command.maxArgs >= 0 && len(args) > command.maxArgs) {
		if name == "createfile" {
			// The content lines follow no matter what, so they must still be
			// consumed rather than run as commands.
			if _, err = s.readContent(); err != nil {
				s.logger.Warn("failed to skip file content", zap.Error(err))
			}
		}
		return false, volumefs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("usage: %s %s", name, command.usage))
	}

	// Another process may have changed the registry since the last command.
	if err = s.ws.Synchronize(); err != nil {
		s.logger.Warn("registry synchronization failed", zap.Error(err))
	}

	s.logger.Debug("running command", zap.String("command", name), zap.Strings("args", args))
	return false, command.run(s, args)
}

type shellCommand struct {
	usage   string
	summary string
	minArgs int
	// maxArgs is -1 for no limit.
	maxArgs int
	run     func(s *Shell, args []string) error
}

var shellCommands map[string]shellCommand

func init() {
	shellCommands = map[string]shellCommand{
		"createdisk": {"NAME (BLOCKSIZE BLOCKS | PRESET)", "register a new volume", 2, 3, (*Shell).createDisk},
		"removedisk": {"NAME", "unregister a volume and delete its image", 1, 1, (*Shell).removeDisk},
		"formatdisk": {"NAME", "erase every file and folder on a volume", 1, 1, (*Shell).formatDisk},
		"lsdisk":     {"", "list registered volumes", 0, 0, (*Shell).listDisks},
		"typedisk":   {"NAME", "print every file stored on a volume", 1, 1, (*Shell).typeDisk},
		"presets":    {"", "list volume presets", 0, 0, (*Shell).listPresets},
		"enterdisk":  {"NAME", "open a volume", 1, 1, (*Shell).enterDisk},
		"exitdisk":   {"", "close the open volume", 0, 0, (*Shell).exitDisk},
		"cd":         {"[PATH]", "change the working folder", 0, 1, (*Shell).changeDirectory},
		"pwd":        {"", "print the working folder", 0, 0, (*Shell).printDirectory},
		"createdir":  {"NAME", "create a folder", 1, 1, (*Shell).createDirectory},
		"createfile": {"NAME", "create a file from the lines that follow, up to " + contentTerminator, 1, 1, (*Shell).createFile},
		"import":     {"HOST_PATH [NAME]", "copy a host file into the working folder", 1, 2, (*Shell).importFile},
		"export":     {"PATH HOST_PATH", "copy a file out to the host, dropping trailing NUL bytes", 2, 2, (*Shell).exportFile},
		"cat":        {"PATH", "print a file", 1, 1, (*Shell).cat},
		"dir":        {"[PATH]", "list a folder", 0, 1, (*Shell).listDirectory},
		"remove":     {"[-r] NAME", "delete a file or folder", 1, 2, (*Shell).remove},
		"move":       {"SOURCE DESTINATION", "move a file or folder", 2, 2, (*Shell).move},
		"copy":       {"SOURCE DESTINATION", "copy a file or folder", 2, 2, (*Shell).copy},
		"rename":     {"NAME NEW_NAME", "rename a file or folder", 2, 2, (*Shell).rename},
		"fsck":       {"", "check the open volume for consistency", 0, 0, (*Shell).fsck},
		"stat":       {"", "show block usage of the open volume", 0, 0, (*Shell).stat},
		"help":       {"", "show this list", 0, 0, (*Shell).help},
	}
}

func (s *Shell) createDisk(args []string) error {
	preset := ""
	dimensions := args[1:]
	if len(dimensions) == 1 {
		preset = dimensions[0]
		dimensions = nil
	}
	geometry, err := parseGeometry(args[0], preset, dimensions)
	if err != nil {
		return err
	}

	entry, err := s.ws.CreateVolume(geometry)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "created %s in slot %d\n", entry.Geometry, entry.Slot)
	return nil
}

func (s *Shell) removeDisk(args []string) error {
	return s.ws.RemoveVolume(args[0])
}

func (s *Shell) formatDisk(args []string) error {
	return s.ws.FormatVolume(args[0])
}

func (s *Shell) listDisks([]string) error {
	renderVolumes(s.out, s.ws.ListVolumes(), s.ws.ActiveName())
	return nil
}

func (s *Shell) listPresets([]string) error {
	renderPresets(s.out, disks.Presets())
	return nil
}

func (s *Shell) typeDisk(args []string) error {
	return printVolumeFiles(s.ws, args[0], s.out)
}

func (s *Shell) enterDisk(args []string) error {
	_, err := s.ws.Enter(args[0])
	return err
}

func (s *Shell) exitDisk([]string) error {
	if s.ws.ActiveName() == "" {
		return volumefs.ErrNoDevice.WithMessage("no volume entered")
	}
	return s.ws.Leave()
}

func (s *Shell) changeDirectory(args []string) error {
	volume, err := s.ws.Active()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return volume.NavigateTo(volumefs.RootName)
	}
	return volume.NavigateTo(args[0])
}

func (s *Shell) printDirectory([]string) error {
	volume, err := s.ws.Active()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s:%s\n", s.ws.ActiveName(), volume.WorkingPath())
	return nil
}

func (s *Shell) createDirectory(args []string) error {
	volume, err := s.ws.Active()
	if err != nil {
		return err
	}
	_, err = volume.InsertFolder(args[0])
	return err
}

// readContent collects lines until the terminator or the end of input.
func (s *Shell) readContent() ([]byte, error) {
	s.setPrompt("... ")
	var buffer strings.Builder
	for {
		line, err := s.input.Readline()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, readline.ErrInterrupt) {
			return nil, volumefs.ErrInvalidArgument.WithMessage("file creation cancelled")
		}
		if err != nil {
			return nil, volumefs.ErrIOFailed.Wrap(err)
		}
		if line == contentTerminator {
			break
		}
		buffer.WriteString(line)
		buffer.WriteString("\n")
	}
	return []byte(buffer.String()), nil
}

// createFile always consumes the content lines, even if the file can't be
// created, so they're never run as commands.
func (s *Shell) createFile(args []string) error {
	content, err := s.readContent()
	if err != nil {
		return err
	}
	file, err := s.ws.CreateFile(args[0], content)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "wrote %d bytes to %d blocks\n", len(content), file.BlockCount)
	return nil
}

func (s *Shell) importFile(args []string) error {
	name := ""
	if len(args) > 1 {
		name = args[1]
	}
	file, err := s.ws.ImportFile(args[0], name)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "imported %s into %d blocks\n", file.Name(), file.BlockCount)
	return nil
}

func (s *Shell) exportFile(args []string) error {
	written, err := s.ws.ExportFile(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "exported %d bytes\n", written)
	return nil
}

func (s *Shell) cat(args []string) error {
	content, err := s.ws.ReadFile(args[0])
	if err != nil {
		return err
	}
	_, err = s.out.Write(content)
	if err == nil && len(content) > 0 && content[len(content)-1] != '\n' {
		_, err = io.WriteString(s.out, "\n")
	}
	return volumefs.CastToDriverError(err)
}

func (s *Shell) listDirectory(args []string) error {
	volume, err := s.ws.Active()
	if err != nil {
		return err
	}
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	nodes, err := volume.List(path)
	if err != nil {
		return err
	}
	renderListing(s.out, nodes)
	return nil
}

func (s *Shell) remove(args []string) error {
	recursive := false
	if args[0] == "-r" {
		recursive = true
		args = args[1:]
	}
	if len(args) != 1 {
		return volumefs.ErrInvalidArgument.WithMessage("usage: remove [-r] NAME")
	}

	volume, err := s.ws.Active()
	if err != nil {
		return err
	}
	_, err = volume.Remove(args[0], recursive)
	return err
}

func (s *Shell) move(args []string) error {
	volume, err := s.ws.Active()
	if err != nil {
		return err
	}
	return volume.Move(args[0], args[1])
}

func (s *Shell) copy(args []string) error {
	return s.ws.Copy(args[0], args[1])
}

func (s *Shell) rename(args []string) error {
	volume, err := s.ws.Active()
	if err != nil {
		return err
	}
	return volume.Rename(args[0], args[1])
}

func (s *Shell) fsck([]string) error {
	volume, err := s.ws.Active()
	if err != nil {
		return err
	}
	report, err := volume.Check()
	if err != nil {
		return err
	}
	fmt.Fprintf(
		s.out,
		"%s is consistent: %d folders, %d files, %d leaked blocks\n",
		s.ws.ActiveName(),
		report.Folders,
		report.Files,
		report.LeakedBlocks,
	)
	return nil
}

func (s *Shell) stat([]string) error {
	volume, err := s.ws.Active()
	if err != nil {
		return err
	}
	renderReport(s.out, volume.Geometry(), volume.Stat())
	return nil
}

func (s *Shell) help([]string) error {
	names := make([]string, 0, len(shellCommands))
	for name := range shellCommands {
		names = append(names, name)
	}
	sort.Strings(names)

	table := newTable(s.out, "Command", "Description")
	for _, name := range names {
		command := shellCommands[name]
		table.Append([]string{strings.TrimSpace(name + " " + command.usage), command.summary})
	}
	table.Append([]string{"exit", "leave the shell"})
	table.Render()
	return nil
}
