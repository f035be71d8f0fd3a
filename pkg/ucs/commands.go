package ucs

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// The controller speaks a command-string protocol: each request is one
// XML element POSTed to the endpoint URL, each response one XML element
// whose attributes carry the result or an errorCode/errorDescr pair.

func escapeAttr(s string) string {
	var b strings.Builder
	// xml.EscapeText never fails on a strings.Builder.
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// LoginCmd builds the full login command.
func LoginCmd(username, password string) string {
	return fmt.Sprintf(`<aaaLogin inName="%s" inPassword="%s" />`,
		escapeAttr(username), escapeAttr(password))
}

// RefreshCmd builds the lightweight session refresh command reusing an
// existing cookie.
func RefreshCmd(username, password, cookie string) string {
	return fmt.Sprintf(`<aaaRefresh inName="%s" inPassword="%s" inCookie="%s" />`,
		escapeAttr(username), escapeAttr(password), escapeAttr(cookie))
}

// ListComputeBladesCmd builds the class query returning every compute
// blade the controller manages.
func ListComputeBladesCmd(cookie string) string {
	return fmt.Sprintf(`<configResolveClass cookie="%s" inHierarchical="false" classId="computeBlade" />`,
		escapeAttr(cookie))
}

// ListProfilesCmd builds the class query returning service profiles and
// profile templates (both are lsServer objects, distinguished by type).
func ListProfilesCmd(cookie string) string {
	return fmt.Sprintf(`<configResolveClass cookie="%s" inHierarchical="false" classId="lsServer" />`,
		escapeAttr(cookie))
}

// ResolveDnCmd builds the query for a single managed object by
// distinguished name.
func ResolveDnCmd(cookie, dn string) string {
	return fmt.Sprintf(`<configResolveDn cookie="%s" inHierarchical="false" dn="%s" />`,
		escapeAttr(cookie), escapeAttr(dn))
}

// CloneProfileCmd builds the command cloning an existing service
// profile under org-root with a new name.
func CloneProfileCmd(cookie, srcDn, newName string) string {
	return fmt.Sprintf(`<lsClone cookie="%s" dn="%s" inTargetOrg="org-root" inServerName="%s" inHierarchical="false" />`,
		escapeAttr(cookie), escapeAttr(srcDn), escapeAttr(newName))
}

// InstantiateTemplateCmd builds the command instantiating a named
// service profile from a profile template.
func InstantiateTemplateCmd(cookie, templateDn, profileName string) string {
	return fmt.Sprintf(`<lsInstantiateTemplate cookie="%s" dn="%s" inTargetOrg="org-root" inServerName="%s" inErrorOnExisting="true" inHierarchical="false" />`,
		escapeAttr(cookie), escapeAttr(templateDn), escapeAttr(profileName))
}

// AssociateProfileCmd builds the mutating command binding a service
// profile to a physical blade.
func AssociateProfileCmd(cookie, profileDn, bladeDn string) string {
	return fmt.Sprintf(`<configConfMo cookie="%s" inHierarchical="true" dn="%s/pn"><inConfig><lsBinding pnDn="%s" restrictMigration="no" /></inConfig></configConfMo>`,
		escapeAttr(cookie), escapeAttr(profileDn), escapeAttr(bladeDn))
}

// DisassociateProfileCmd builds the command removing the binding
// between a service profile and its blade.
func DisassociateProfileCmd(cookie, profileDn string) string {
	return fmt.Sprintf(`<configConfMo cookie="%s" inHierarchical="true" dn="%s/pn"><inConfig><lsBinding dn="%s/pn" status="deleted" /></inConfig></configConfMo>`,
		escapeAttr(cookie), escapeAttr(profileDn), escapeAttr(profileDn))
}

// DeleteProfileCmd builds the command deleting a service profile.
func DeleteProfileCmd(cookie, profileDn string) string {
	return fmt.Sprintf(`<configConfMo cookie="%s" inHierarchical="false" dn="%s"><inConfig><lsServer dn="%s" status="deleted" /></inConfig></configConfMo>`,
		escapeAttr(cookie), escapeAttr(profileDn), escapeAttr(profileDn))
}
