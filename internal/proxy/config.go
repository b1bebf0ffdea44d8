package proxy

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ConfigureSystemProxy points the operating system's automatic proxy
// configuration at pacURL, or switches it off again.
func ConfigureSystemProxy(enable bool, pacURL string) error {
	switch runtime.GOOS {
	case "darwin":
		return configureMacOSProxy(enable, pacURL)
	case "linux":
		return configureLinuxProxy(enable, pacURL)
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

func configureMacOSProxy(enable bool, pacURL string) error {
	out, err := exec.Command("networksetup", "-listallnetworkservices").Output()
	if err != nil {
		return err
	}

	for _, network := range networkServices(string(out)) {
		if enable {
			err = exec.Command("networksetup", "-setautoproxyurl", network, pacURL).Run()
			if err == nil {
				err = exec.Command("networksetup", "-setautoproxystate", network, "on").Run()
			}
		} else {
			err = exec.Command("networksetup", "-setautoproxystate", network, "off").Run()
		}
		if err == nil {
			break
		}
	}
	return err
}

// networkServices parses `networksetup -listallnetworkservices`, skipping the
// header line and disabled services (marked with an asterisk).
func networkServices(out string) []string {
	var services []string
	for _, service := range strings.Split(out, "\n") {
		service = strings.TrimSpace(service)
		if service == "" || strings.HasPrefix(service, "*") || strings.HasPrefix(service, "An asterisk") {
			continue
		}
		services = append(services, service)
	}
	return services
}

func configureLinuxProxy(enable bool, pacURL string) error {
	if _, err := exec.LookPath("gsettings"); err != nil {
		return fmt.Errorf("gsettings not found; set the PAC URL %s manually", pacURL)
	}
	if !enable {
		return exec.Command("gsettings", "set", "org.gnome.system.proxy", "mode", "none").Run()
	}
	if err := exec.Command("gsettings", "set", "org.gnome.system.proxy", "autoconfig-url", pacURL).Run(); err != nil {
		return err
	}
	return exec.Command("gsettings", "set", "org.gnome.system.proxy", "mode", "auto").Run()
}
