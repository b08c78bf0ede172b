package cmd

import (
	"fmt"
	"os"
)

// Completion outputs shell completion scripts
func Completion(shell string) {
	switch shell {
	case "bash":
		fmt.Print(bashCompletion)
	case "zsh":
		fmt.Print(zshCompletion)
	case "fish":
		fmt.Print(fishCompletion)
	default:
		fmt.Fprintf(os.Stderr, "Unknown shell: %s\nSupported: bash, zsh, fish\n", shell)
		os.Exit(1)
	}
}

const bashCompletion = `_securestore() {
    local cur prev words cword
    _init_completion || return

    local commands="put get has rm ls wipe debug compact token pin help completion"
    local globals="--config --dir --backend --level --log-level"

    if [[ $cword -eq 1 ]]; then
        COMPREPLY=($(compgen -W "$commands" -- "$cur"))
        return
    fi

    local cmd="${words[1]}"
    if [[ "$cur" == -* ]]; then
        case "$cmd" in
            wipe)  COMPREPLY=($(compgen -W "--force $globals" -- "$cur")) ;;
            debug) COMPREPLY=($(compgen -W "--json --diff $globals" -- "$cur")) ;;
            *)     COMPREPLY=($(compgen -W "$globals" -- "$cur")) ;;
        esac
        return
    fi

    case "$cmd" in
        get|has|rm|put)
            # Complete with stored keys
            local keys
            keys=$(securestore ls 2>/dev/null)
            COMPREPLY=($(compgen -W "$keys" -- "$cur"))
            ;;
        token)
            COMPREPLY=($(compgen -W "save load clear" -- "$cur"))
            ;;
        pin)
            COMPREPLY=($(compgen -W "status fail reset" -- "$cur"))
            ;;
        help)
            COMPREPLY=($(compgen -W "$commands" -- "$cur"))
            ;;
        completion)
            COMPREPLY=($(compgen -W "bash zsh fish" -- "$cur"))
            ;;
    esac
}

complete -F _securestore securestore
`

const zshCompletion = `#compdef securestore

_securestore() {
    local -a commands
    commands=(
        'put:Encrypt and store a value'
        'get:Decrypt and print a value'
        'has:Check whether a key holds a value'
        'rm:Remove keys from the store'
        'ls:List stored keys'
        'wipe:Remove every key and value'
        'debug:Show the store state by label'
        'compact:Compact store files to reclaim disk space'
        'token:Manage the server session token'
        'pin:Manage the incorrect PIN attempt counter'
        'help:Show help for a command'
        'completion:Generate shell completions'
    )

    _arguments -C \
        '1: :->command' \
        '*: :->args'

    case "$state" in
        command)
            _describe -t commands 'securestore commands' commands
            ;;
        args)
            case "${words[2]}" in
                get|has|rm|put)
                    _arguments '*:key:_securestore_keys'
                    ;;
                wipe)
                    _arguments '--force[Wipe without confirmation]'
                    ;;
                debug)
                    _arguments \
                        '--json[Print the snapshot as JSON]' \
                        '--diff[Show keys present in only one store]'
                    ;;
                token)
                    _values 'action' save load clear
                    ;;
                pin)
                    _values 'action' status fail reset
                    ;;
                help)
                    _describe -t commands 'securestore commands' commands
                    ;;
                completion)
                    _values 'shell' bash zsh fish
                    ;;
            esac
            ;;
    esac
}

_securestore_keys() {
    local -a keys
    keys=(${(f)"$(securestore ls 2>/dev/null)"})
    _describe -t keys 'stored keys' keys
}

_securestore "$@"
`

const fishCompletion = `# securestore fish completions

set -l commands put get has rm ls wipe debug compact token pin help completion

complete -c securestore -f

# Commands
complete -c securestore -n "not __fish_seen_subcommand_from $commands" -a put -d 'Encrypt and store a value'
complete -c securestore -n "not __fish_seen_subcommand_from $commands" -a get -d 'Decrypt and print a value'
complete -c securestore -n "not __fish_seen_subcommand_from $commands" -a has -d 'Check whether a key holds a value'
complete -c securestore -n "not __fish_seen_subcommand_from $commands" -a rm -d 'Remove keys'
complete -c securestore -n "not __fish_seen_subcommand_from $commands" -a ls -d 'List stored keys'
complete -c securestore -n "not __fish_seen_subcommand_from $commands" -a wipe -d 'Remove every key and value'
complete -c securestore -n "not __fish_seen_subcommand_from $commands" -a debug -d 'Show store state by label'
complete -c securestore -n "not __fish_seen_subcommand_from $commands" -a compact -d 'Compact store files'
complete -c securestore -n "not __fish_seen_subcommand_from $commands" -a token -d 'Manage the session token'
complete -c securestore -n "not __fish_seen_subcommand_from $commands" -a pin -d 'Manage the PIN attempt counter'
complete -c securestore -n "not __fish_seen_subcommand_from $commands" -a help -d 'Show help'
complete -c securestore -n "not __fish_seen_subcommand_from $commands" -a completion -d 'Generate completions'

# Stored keys
complete -c securestore -n "__fish_seen_subcommand_from get has rm put" -a "(securestore ls 2>/dev/null)"

# Flags
complete -c securestore -n "__fish_seen_subcommand_from wipe" -l force -d 'Wipe without confirmation'
complete -c securestore -n "__fish_seen_subcommand_from debug" -l json -d 'Print the snapshot as JSON'
complete -c securestore -n "__fish_seen_subcommand_from debug" -l diff -d 'Show keys present in only one store'
complete -c securestore -l config -r -d 'Path to config file'
complete -c securestore -l dir -r -d 'Storage directory'
complete -c securestore -l backend -a "keyring file" -d 'Platform key backend'
complete -c securestore -l level -r -d 'Platform capability level'
complete -c securestore -l log-level -a "debug info warn error" -d 'Log level'

# Subcommand actions
complete -c securestore -n "__fish_seen_subcommand_from token" -a "save load clear"
complete -c securestore -n "__fish_seen_subcommand_from pin" -a "status fail reset"

# help completions
complete -c securestore -n "__fish_seen_subcommand_from help" -a "$commands"

# completion completions
complete -c securestore -n "__fish_seen_subcommand_from completion" -a "bash zsh fish"
`
