// Command deploy installs the snipe runner on a remote host close to the
// RPC provider: cross-builds the binaries, uploads them with the env file
// over SSH, and manages a systemd service that fires one launch run per
// start.
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"fleetsnipe/internal/dotenv"
)

type config struct {
	sshServer   string
	sshPassword string
	sshKeyPath  string
	sshPort     string
	sshUseSudo  bool
	remoteDir   string
	serviceName string
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	cfg := loadConfig()

	if len(os.Args) > 1 {
		runCommand(cfg, os.Args[1])
		return
	}

	runInteractive(cfg)
}

func loadConfig() config {
	sshUseSudo := false
	if v := strings.TrimSpace(os.Getenv("SSH_USE_SUDO")); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			sshUseSudo = true
		}
	}

	return config{
		sshServer:   os.Getenv("SSH_SERVER"),
		sshPassword: os.Getenv("SSH_PASSWORD"),
		sshKeyPath:  os.Getenv("SSH_KEY_PATH"),
		sshPort:     firstNonEmpty(os.Getenv("SSH_PORT"), "22"),
		sshUseSudo:  sshUseSudo,
		remoteDir:   firstNonEmpty(os.Getenv("DEPLOY_REMOTE_DIR"), "/opt/fleetsnipe"),
		serviceName: firstNonEmpty(os.Getenv("DEPLOY_SERVICE_NAME"), "fleetsnipe"),
	}
}

func runInteractive(cfg config) {
	reader := bufio.NewReader(os.Stdin)

	for {
		printMenu()
		fmt.Print("\nSelect option: ")

		input, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			log.Printf("Error reading input: %v", err)
			continue
		}

		choice := strings.TrimSpace(input)
		if choice == "" {
			continue
		}

		switch choice {
		case "1":
			deploySnipe(cfg)
		case "2":
			pushEnv(cfg)
		case "3":
			startRun(cfg)
		case "4":
			stopService(cfg)
		case "5":
			showStatus(cfg)
		case "6":
			showLogs(cfg, 80)
		case "7":
			followLogs(cfg)
		case "8":
			removeService(cfg)
		case "0", "q", "quit", "exit":
			fmt.Println("Goodbye!")
			return
		default:
			fmt.Printf("Unknown option: %s\n", choice)
		}

		fmt.Println()
	}
}

func printMenu() {
	fmt.Println()
	fmt.Println("=== fleetsnipe Deploy CLI ===")
	fmt.Println()
	fmt.Println("  1) Deploy snipe runner")
	fmt.Println("  2) Push .env / config")
	fmt.Println("  3) Start a run")
	fmt.Println("  4) Stop the run")
	fmt.Println("  5) Show status")
	fmt.Println("  6) Show logs")
	fmt.Println("  7) Follow logs")
	fmt.Println("  8) Remove service (uninstall)")
	fmt.Println("  0) Exit")
}

func runCommand(cfg config, cmd string) {
	switch cmd {
	case "deploy", "deploy-snipe":
		deploySnipe(cfg)
	case "push-env", "push":
		pushEnv(cfg)
	case "start", "run":
		startRun(cfg)
	case "stop":
		stopService(cfg)
	case "status":
		showStatus(cfg)
	case "logs":
		showLogs(cfg, 80)
	case "follow":
		followLogs(cfg)
	case "remove", "uninstall":
		removeService(cfg)
	case "help":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`Usage: deploy [command]

Commands:
  deploy      Build and install the snipe runner + utilities
  push-env    Upload local .env and config.yaml to the remote dir
  start       Start one launch run (systemctl start)
  stop        Stop the running service
  status      Show service status
  logs        Show recent logs
  follow      Follow logs in real-time
  remove      Remove/uninstall the service
  help        Show this help

If no command is given, runs in interactive mode.

Configuration via .env:
  SSH_SERVER          user@host (required)
  SSH_PASSWORD        Password for SSH (or use SSH_KEY_PATH)
  SSH_KEY_PATH        Path to SSH private key
  SSH_PORT            SSH port (default: 22)
  SSH_USE_SUDO        Use sudo for remote commands (1/true/yes)
  DEPLOY_REMOTE_DIR   Remote directory (default: /opt/fleetsnipe)
  DEPLOY_SERVICE_NAME Service name (default: fleetsnipe)`)
}

func getSSHClient(cfg config) (*ssh.Client, error) {
	if cfg.sshServer == "" {
		return nil, fmt.Errorf("SSH_SERVER not configured in .env")
	}

	var authMethods []ssh.AuthMethod

	// Try key auth first
	if cfg.sshKeyPath != "" {
		keyPath := cfg.sshKeyPath
		if strings.HasPrefix(keyPath, "~") {
			home, _ := os.UserHomeDir()
			keyPath = filepath.Join(home, keyPath[1:])
		}

		key, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("read SSH key %s: %w", keyPath, err)
		}

		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse SSH key: %w", err)
		}

		authMethods = append(authMethods, ssh.PublicKeys(signer))
	} else if cfg.sshPassword != "" {
		authMethods = append(authMethods, ssh.Password(cfg.sshPassword))
	} else {
		return nil, fmt.Errorf("SSH_PASSWORD or SSH_KEY_PATH required in .env")
	}

	// Parse user@host
	parts := strings.SplitN(cfg.sshServer, "@", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("SSH_SERVER must be user@host format, got: %s", cfg.sshServer)
	}
	user := parts[0]
	host := parts[1]

	sshConfig := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(host, cfg.sshPort)
	client, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("SSH connect to %s: %w", addr, err)
	}

	return client, nil
}

func runRemoteCommand(cfg config, cmd string) (string, error) {
	client, err := getSSHClient(cfg)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("create SSH session: %w", err)
	}
	defer session.Close()

	if cfg.sshUseSudo {
		cmd = "sudo -n " + cmd
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(cmd)
	output := stdout.String()
	if stderr.Len() > 0 {
		output += stderr.String()
	}

	if err != nil {
		return output, fmt.Errorf("remote command failed: %w\nOutput: %s", err, output)
	}

	return output, nil
}

func runRemoteCommandStreaming(cfg config, cmd string) error {
	client, err := getSSHClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("create SSH session: %w", err)
	}
	defer session.Close()

	if cfg.sshUseSudo {
		cmd = "sudo -n " + cmd
	}

	session.Stdout = os.Stdout
	session.Stderr = os.Stderr

	return session.Run(cmd)
}

func getRemoteArch(cfg config) (string, error) {
	output, err := runRemoteCommand(cfg, "uname -m")
	if err != nil {
		return "", err
	}

	arch := strings.TrimSpace(output)
	switch arch {
	case "x86_64":
		return "amd64", nil
	case "aarch64", "arm64":
		return "arm64", nil
	default:
		return "", fmt.Errorf("unsupported remote architecture: %s", arch)
	}
}

func buildBinary(cmdName, goarch string) (string, error) {
	outDir := filepath.Join("out", "deploy", cmdName)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	binaryPath := filepath.Join(outDir, cmdName)

	fmt.Printf("Building %s for linux/%s...\n", cmdName, goarch)

	cmd := exec.Command("go", "build", "-trimpath", "-ldflags=-s -w", "-o", binaryPath, "./cmd/"+cmdName)
	cmd.Env = append(os.Environ(),
		"CGO_ENABLED=0",
		"GOOS=linux",
		"GOARCH="+goarch,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("build failed: %w", err)
	}

	return binaryPath, nil
}

func uploadFile(cfg config, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read local file: %w", err)
	}
	return uploadContent(cfg, data, remotePath)
}

func uploadContent(cfg config, content []byte, remotePath string) error {
	client, err := getSSHClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("create SSH session: %w", err)
	}
	defer session.Close()

	// Use cat for the upload (simpler than full SCP protocol)
	remoteCmd := fmt.Sprintf("cat > %s", remotePath)

	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("get stdin pipe: %w", err)
	}

	if err := session.Start(remoteCmd); err != nil {
		return fmt.Errorf("start remote command: %w", err)
	}

	if _, err := stdin.Write(content); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	stdin.Close()

	if err := session.Wait(); err != nil {
		return fmt.Errorf("remote command failed: %w", err)
	}

	return nil
}

// utilityCommands are built and shipped next to the runner so the operator
// can inspect and unwind a fleet from the deploy host itself.
var utilityCommands = []string{"balances", "sweep", "convert"}

func deploySnipe(cfg config) {
	fmt.Print("\n=== Deploying snipe runner ===\n\n")

	goarch, err := getRemoteArch(cfg)
	if err != nil {
		fmt.Printf("Error getting remote arch: %v\n", err)
		return
	}
	fmt.Printf("Remote architecture: %s\n", goarch)

	binaryPath, err := buildBinary("snipe", goarch)
	if err != nil {
		fmt.Printf("Error building: %v\n", err)
		return
	}
	fmt.Printf("Built: %s\n", binaryPath)

	type utility struct {
		name string
		path string
	}
	var utilities []utility
	for _, name := range utilityCommands {
		path, err := buildBinary(name, goarch)
		if err != nil {
			fmt.Printf("[warn] failed to build %s utility: %v\n", name, err)
			continue
		}
		fmt.Printf("Built (utility): %s\n", path)
		utilities = append(utilities, utility{name: name, path: path})
	}

	unitContent := generateSystemdUnit(cfg.remoteDir, cfg.serviceName)

	fmt.Println("Creating remote directories...")
	mkdirCmd := fmt.Sprintf("mkdir -p %s/bin %s/out", cfg.remoteDir, cfg.remoteDir)
	if _, err := runRemoteCommand(cfg, mkdirCmd); err != nil {
		fmt.Printf("Error creating directories: %v\n", err)
		return
	}

	remoteBinPath := fmt.Sprintf("%s/bin/snipe", cfg.remoteDir)
	tempBinPath := "/tmp/snipe.new"

	fmt.Printf("Uploading binary to %s...\n", remoteBinPath)
	if err := uploadFile(cfg, binaryPath, tempBinPath); err != nil {
		fmt.Printf("Error uploading binary: %v\n", err)
		return
	}

	var uploaded []utility
	for _, u := range utilities {
		remotePath := fmt.Sprintf("%s/bin/%s", cfg.remoteDir, u.name)
		tempPath := fmt.Sprintf("/tmp/%s.new", u.name)
		fmt.Printf("Uploading %s utility to %s...\n", u.name, remotePath)
		if err := uploadFile(cfg, u.path, tempPath); err != nil {
			fmt.Printf("[warn] failed to upload %s utility: %v\n", u.name, err)
			continue
		}
		uploaded = append(uploaded, u)
	}

	remoteUnitPath := fmt.Sprintf("/etc/systemd/system/%s.service", cfg.serviceName)
	tempUnitPath := fmt.Sprintf("/tmp/%s.service.new", cfg.serviceName)

	fmt.Printf("Uploading systemd unit to %s...\n", remoteUnitPath)
	if err := uploadContent(cfg, []byte(unitContent), tempUnitPath); err != nil {
		fmt.Printf("Error uploading unit file: %v\n", err)
		return
	}

	// Install everything atomically. The unit is neither enabled nor
	// started: a run fires only on an explicit start, and never at boot.
	fmt.Println("Installing files...")
	sudo := ""
	if cfg.sshUseSudo {
		sudo = "sudo -n "
	}
	installCmd := fmt.Sprintf("%schmod 700 %s && %smv -f %s %s", sudo, tempBinPath, sudo, tempBinPath, remoteBinPath)
	for _, u := range uploaded {
		tempPath := fmt.Sprintf("/tmp/%s.new", u.name)
		remotePath := fmt.Sprintf("%s/bin/%s", cfg.remoteDir, u.name)
		installCmd += fmt.Sprintf(" && %schmod 700 %s && %smv -f %s %s", sudo, tempPath, sudo, tempPath, remotePath)
	}
	installCmd += fmt.Sprintf(
		" && %schmod 644 %s && %smv -f %s %s && %ssystemctl daemon-reload",
		sudo, tempUnitPath, sudo, tempUnitPath, remoteUnitPath, sudo,
	)
	if output, err := runRemoteCommand(cfg, installCmd); err != nil {
		fmt.Printf("Error installing: %v\n%s\n", err, output)
		return
	}

	fmt.Println("\nService status:")
	statusCmd := fmt.Sprintf("systemctl status %s --no-pager || true", cfg.serviceName)
	if output, err := runRemoteCommand(cfg, statusCmd); err == nil {
		fmt.Println(output)
	}

	fmt.Print("\n=== snipe runner deployed ===\n")
	fmt.Printf("Push your .env next (option 2), then start a run with: deploy start\n")
}

func generateSystemdUnit(remoteDir, serviceName string) string {
	var sb strings.Builder

	sb.WriteString("[Unit]\n")
	sb.WriteString("Description=fleetsnipe launch runner\n")
	sb.WriteString("After=network-online.target\n")
	sb.WriteString("Wants=network-online.target\n")
	sb.WriteString("\n")

	sb.WriteString("[Service]\n")
	sb.WriteString("Type=simple\n")
	sb.WriteString(fmt.Sprintf("WorkingDirectory=%s\n", remoteDir))
	sb.WriteString(fmt.Sprintf("EnvironmentFile=%s/.env\n", remoteDir))
	sb.WriteString(fmt.Sprintf("ExecStart=%s/bin/snipe\n", remoteDir))

	// One launch per start. A run that died mid-pipeline needs an operator
	// looking at it, not an automatic re-fire.
	sb.WriteString("Restart=no\n")
	sb.WriteString("UMask=0077\n")
	sb.WriteString("NoNewPrivileges=true\n")
	sb.WriteString("PrivateTmp=true\n")
	sb.WriteString("ProtectHome=true\n")
	sb.WriteString("ProtectSystem=strict\n")
	sb.WriteString(fmt.Sprintf("ReadWritePaths=%s/out\n", remoteDir))
	sb.WriteString("\n")

	sb.WriteString("[Install]\n")
	sb.WriteString("WantedBy=multi-user.target\n")

	return sb.String()
}

// pushEnv uploads the local .env and, when present, config.yaml into the
// remote working directory. The key material never touches the shell
// command line, only the cat pipe.
func pushEnv(cfg config) {
	fmt.Print("\n=== Pushing .env / config ===\n\n")

	if _, err := os.Stat(".env"); err != nil {
		fmt.Printf("Error: no local .env found: %v\n", err)
		return
	}

	mkdirCmd := fmt.Sprintf("mkdir -p %s", cfg.remoteDir)
	if _, err := runRemoteCommand(cfg, mkdirCmd); err != nil {
		fmt.Printf("Error creating remote dir: %v\n", err)
		return
	}

	remoteEnv := cfg.remoteDir + "/.env"
	fmt.Printf("Uploading .env to %s...\n", remoteEnv)
	if err := uploadFile(cfg, ".env", remoteEnv); err != nil {
		fmt.Printf("Error uploading .env: %v\n", err)
		return
	}
	tightenCmd := fmt.Sprintf("chmod 600 %s", remoteEnv)
	if _, err := runRemoteCommand(cfg, tightenCmd); err != nil {
		fmt.Printf("[warn] failed to tighten .env permissions: %v\n", err)
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		remoteCfg := cfg.remoteDir + "/config.yaml"
		fmt.Printf("Uploading config.yaml to %s...\n", remoteCfg)
		if err := uploadFile(cfg, "config.yaml", remoteCfg); err != nil {
			fmt.Printf("Error uploading config.yaml: %v\n", err)
			return
		}
	} else {
		fmt.Println("No local config.yaml, skipping (env/defaults will be used)")
	}

	fmt.Println("\n=== Config pushed successfully ===")
}

func startRun(cfg config) {
	fmt.Print("\n=== Starting a run ===\n\n")

	fmt.Printf("Starting %s...\n", cfg.serviceName)
	cmd := fmt.Sprintf("systemctl start %s", cfg.serviceName)
	if _, err := runRemoteCommand(cfg, cmd); err != nil {
		fmt.Printf("  Error: %v\n", err)
		return
	}
	fmt.Println("  OK")

	fmt.Println()
	showStatus(cfg)
}

func stopService(cfg config) {
	fmt.Print("\n=== Stopping the run ===\n\n")

	fmt.Printf("Stopping %s...\n", cfg.serviceName)
	cmd := fmt.Sprintf("systemctl stop %s", cfg.serviceName)
	if _, err := runRemoteCommand(cfg, cmd); err != nil {
		fmt.Printf("  Error: %v\n", err)
	} else {
		fmt.Println("  OK")
	}

	fmt.Println()
	showStatus(cfg)
}

func showStatus(cfg config) {
	fmt.Print("\n=== Service Status ===\n\n")

	cmd := fmt.Sprintf("systemctl status %s --no-pager || true", cfg.serviceName)
	if output, err := runRemoteCommand(cfg, cmd); err == nil {
		fmt.Println(output)
	} else {
		fmt.Printf("Error: %v\n", err)
	}
}

func showLogs(cfg config, lines int) {
	fmt.Printf("\n=== Recent Logs (last %d lines) ===\n\n", lines)

	cmd := fmt.Sprintf("journalctl -u %s -n %d --no-pager || true", cfg.serviceName, lines)
	if output, err := runRemoteCommand(cfg, cmd); err == nil {
		fmt.Println(output)
	} else {
		fmt.Printf("Error: %v\n", err)
	}
}

func followLogs(cfg config) {
	fmt.Print("\n=== Following Logs (Ctrl+C to stop) ===\n\n")

	cmd := fmt.Sprintf("journalctl -u %s -f --no-pager", cfg.serviceName)
	if err := runRemoteCommandStreaming(cfg, cmd); err != nil {
		fmt.Printf("Error: %v\n", err)
	}
}

func removeService(cfg config) {
	fmt.Print("\n=== Removing service ===\n\n")
	fmt.Println("This will:")
	fmt.Printf("  - Stop %s\n", cfg.serviceName)
	fmt.Printf("  - Disable %s\n", cfg.serviceName)
	fmt.Printf("  - Remove /etc/systemd/system/%s.service\n", cfg.serviceName)
	fmt.Printf("  - Remove %s (including the .env!)\n", cfg.remoteDir)
	fmt.Println()
	fmt.Print("Are you sure? (yes/no): ")

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Printf("Error reading input: %v\n", err)
		return
	}

	if strings.TrimSpace(strings.ToLower(input)) != "yes" {
		fmt.Println("Aborted.")
		return
	}

	fmt.Printf("Stopping %s...\n", cfg.serviceName)
	stopCmd := fmt.Sprintf("systemctl stop %s || true", cfg.serviceName)
	if _, err := runRemoteCommand(cfg, stopCmd); err != nil {
		fmt.Printf("  Warning: %v\n", err)
	}

	fmt.Printf("Disabling %s...\n", cfg.serviceName)
	disableCmd := fmt.Sprintf("systemctl disable %s || true", cfg.serviceName)
	if _, err := runRemoteCommand(cfg, disableCmd); err != nil {
		fmt.Printf("  Warning: %v\n", err)
	}

	unitFile := fmt.Sprintf("/etc/systemd/system/%s.service", cfg.serviceName)
	fmt.Printf("Removing %s...\n", unitFile)
	rmCmd := fmt.Sprintf("rm -f %s", unitFile)
	if _, err := runRemoteCommand(cfg, rmCmd); err != nil {
		fmt.Printf("  Warning: %v\n", err)
	}

	fmt.Println("Reloading systemd...")
	if _, err := runRemoteCommand(cfg, "systemctl daemon-reload"); err != nil {
		fmt.Printf("  Warning: %v\n", err)
	}

	fmt.Printf("Removing %s...\n", cfg.remoteDir)
	rmDirCmd := fmt.Sprintf("rm -rf %s", cfg.remoteDir)
	if _, err := runRemoteCommand(cfg, rmDirCmd); err != nil {
		fmt.Printf("  Warning: %v\n", err)
	}

	fmt.Printf("\n=== %s removed ===\n", cfg.serviceName)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func init() {
	// Ensure we're running from repo root or adjust paths
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		log.Println("[warn] This tool is designed for Unix-like systems")
	}
}
