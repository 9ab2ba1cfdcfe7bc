package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	apiclient "github.com/splax/splitter/pkg/api/client"
)

var buildVersion = "dev"

const requestTimeout = 15 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "register":
		err = commandRegister(args)
	case "login":
		err = commandLogin(args)
	case "logout":
		err = commandLogout()
	case "me":
		err = commandMe(args)
	case "friends":
		err = commandFriends(args)
	case "invite":
		err = commandInvite(args)
	case "redeem":
		err = commandRedeem(args)
	case "groups":
		err = commandGroups(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func readPassword(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Print("Password: ")
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(bytes), nil
}

func commandRegister(args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	username := fs.String("username", "", "Display name")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4000)")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" || strings.TrimSpace(*username) == "" {
		return errors.New("--email and --username are required")
	}
	secret, err := readPassword(*password)
	if err != nil {
		return err
	}

	s, err := openSession(*apiBase, false)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resp, err := s.client.Register(ctx, *email, secret, *username)
	if err != nil {
		return err
	}
	if err := s.storeToken(resp.Token); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Registered %s (%s)\n", resp.User.Username, resp.User.UniqueID)
	return nil
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4000)")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}
	secret, err := readPassword(*password)
	if err != nil {
		return err
	}

	s, err := openSession(*apiBase, false)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resp, err := s.client.Login(ctx, *email, secret)
	if err != nil {
		return err
	}
	if err := s.storeToken(resp.Token); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Logged in as %s (%s)\n", resp.User.Username, resp.User.UniqueID)
	return nil
}

func commandLogout() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.AccessToken = ""
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("Logged out")
	return nil
}

func commandMe(args []string) error {
	fs := flag.NewFlagSet("me", flag.ExitOnError)
	fs.Parse(args)

	s, err := openSession("", true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	me, err := s.client.Me(ctx, s.token)
	if err != nil {
		return err
	}
	fmt.Printf("id:       %d\nemail:    %s\nusername: %s\nuniqueId: %s\n", me.ID, me.Email, me.Username, me.UniqueID)
	if me.AvatarURL != nil {
		fmt.Printf("avatar:   %s\n", *me.AvatarURL)
	}
	return nil
}

func commandFriends(args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}

	s, err := openSession("", true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch sub {
	case "list":
		friends, err := s.client.ListFriends(ctx, s.token)
		if err != nil {
			return err
		}
		if len(friends) == 0 {
			fmt.Println("No friends yet")
			return nil
		}
		for _, f := range friends {
			fmt.Printf("%d\t%s\t%s\n", f.ID, f.Username, f.UniqueID)
		}
		return nil
	case "remove":
		if len(args) != 1 {
			return errors.New("usage: splitter friends remove <user-id>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		if err := s.client.RemoveFriend(ctx, s.token, id); err != nil {
			return err
		}
		fmt.Println("Friend removed")
		return nil
	default:
		return fmt.Errorf("unknown friends command: %s", sub)
	}
}

func commandInvite(args []string) error {
	fs := flag.NewFlagSet("invite", flag.ExitOnError)
	groupID := fs.Int64("group", 0, "Group identifier (omit for a friend invite)")
	fs.Parse(args)

	s, err := openSession("", true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var inv apiclient.Invite
	if *groupID > 0 {
		inv, err = s.client.CreateGroupInvite(ctx, s.token, *groupID)
	} else {
		inv, err = s.client.CreateFriendInvite(ctx, s.token)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s\nexpires %s\n", inv.Link, inv.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

func commandRedeem(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: splitter redeem <scanned-code>")
	}

	s, err := openSession("", true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, err := s.client.Redeem(ctx, s.token, args[0])
	if err != nil {
		return err
	}
	fmt.Println(describeRedeem(res))
	return nil
}

func describeRedeem(res apiclient.RedeemResult) string {
	switch res.Kind {
	case "friend":
		name := ""
		if res.User != nil {
			name = res.User.Username
		}
		if res.Action == "already_friends" {
			return fmt.Sprintf("Already friends with %s", name)
		}
		return fmt.Sprintf("You are now friends with %s", name)
	case "group":
		name := ""
		if res.Group != nil {
			name = res.Group.Name
		}
		if res.Member == "already_member" {
			return fmt.Sprintf("Already a member of %s", name)
		}
		return fmt.Sprintf("Joined %s", name)
	default:
		return "Invite redeemed"
	}
}

func commandGroups(args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}

	s, err := openSession("", true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch sub {
	case "list":
		groups, err := s.client.ListGroups(ctx, s.token)
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			fmt.Println("No groups yet")
			return nil
		}
		for _, g := range groups {
			fmt.Printf("%d\t%s\n", g.ID, g.Name)
		}
		return nil
	case "create":
		fs := flag.NewFlagSet("groups create", flag.ExitOnError)
		name := fs.String("name", "", "Group name")
		fs.Parse(args)
		if strings.TrimSpace(*name) == "" {
			return errors.New("--name is required")
		}
		group, err := s.client.CreateGroup(ctx, s.token, *name)
		if err != nil {
			return err
		}
		fmt.Printf("Created group %d (%s)\n", group.ID, group.Name)
		return nil
	default:
		return fmt.Errorf("unknown groups command: %s", sub)
	}
}

func printUsage() {
	fmt.Printf("splitter CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	splitter register --email user@example.com --username Name [--password secret] [--api http://localhost:4000]
	splitter login --email user@example.com [--password secret] [--api http://localhost:4000]
	splitter logout
	splitter me
	splitter friends [list|remove <user-id>]
	splitter invite [--group <group-id>]
	splitter redeem <scanned-code>
	splitter groups [list|create --name <name>]
	splitter version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
