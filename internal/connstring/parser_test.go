package connstring

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"sshtunnel/internal/ssh"
)

var _ = Describe("Parse", func() {

	Context("a string with an ssh_part and an explicit port", func() {
		It("splits credentials from the resource", func() {
			result, err := Parse("ssh://root@localhost:222->http://localhost:8080")
			Expect(err).To(Not(HaveOccurred()))
			Expect(result.Credentials).To(Not(BeNil()))
			Expect(result.Credentials.User).To(Equal("root"))
			Expect(result.Credentials.Host).To(Equal("localhost"))
			Expect(result.Credentials.Port).To(Equal(222))
			Expect(result.Credentials.Kind).To(Equal(ssh.KindAgent))
			Expect(result.Resource).To(Equal("http://localhost:8080"))
		})
	})

	Context("a string with an ssh_part and no port", func() {
		It("defaults the port to 22", func() {
			result, err := Parse("ssh://root@localhost->http://x")
			Expect(err).To(Not(HaveOccurred()))
			Expect(result.Credentials.Port).To(Equal(ssh.DefaultPort))
		})
	})

	Context("a bare resource with no ssh_part", func() {
		It("passes the string through untouched", func() {
			result, err := Parse("http://localhost:8080")
			Expect(err).To(Not(HaveOccurred()))
			Expect(result.Credentials).To(BeNil())
			Expect(result.Resource).To(Equal("http://localhost:8080"))
		})
	})

	Context("the ssh: scheme without //", func() {
		It("is also recognized", func() {
			result, err := Parse("ssh:root@localhost:2222->/var/run/app.sock")
			Expect(err).To(Not(HaveOccurred()))
			Expect(result.Credentials).To(Not(BeNil()))
			Expect(result.Credentials.Port).To(Equal(2222))
			Expect(result.Resource).To(Equal("/var/run/app.sock"))
		})
	})

	Context("scheme case sensitivity", func() {
		It("matches SSH:// case-insensitively", func() {
			result, err := Parse("SSH://root@localhost->x")
			Expect(err).To(Not(HaveOccurred()))
			Expect(result.Credentials).To(Not(BeNil()))
		})
	})

	Context("a left-hand side that merely contains the word ssh", func() {
		It("is treated as an opaque resource, not an ssh_part", func() {
			result, err := Parse("sshfs-mount->resource")
			Expect(err).To(Not(HaveOccurred()))
			Expect(result.Credentials).To(BeNil())
			Expect(result.Resource).To(Equal("sshfs-mount->resource"))
		})
	})

	Context("malformed ssh_part", func() {
		It("errors on a missing user", func() {
			_, err := Parse("ssh://@localhost->x")
			Expect(err).To(HaveOccurred())
		})

		It("errors on a non-numeric port", func() {
			_, err := Parse("ssh://root@localhost:abc->x")
			Expect(err).To(HaveOccurred())
		})
	})
})

type stubResolver struct {
	creds ssh.Credentials
	err   error
}

func (s *stubResolver) Resolve(ssh.Credentials) (ssh.Credentials, error) {
	return s.creds, s.err
}

var _ = Describe("ResolveWith", func() {

	It("is a no-op when the result has no credentials", func() {
		result := Result{Resource: "http://x"}
		resolved, err := ResolveWith(result, &stubResolver{})
		Expect(err).To(Not(HaveOccurred()))
		Expect(resolved.Credentials).To(BeNil())
	})

	It("is a no-op when the resolver is nil", func() {
		creds := ssh.NewAgentCredentials("root", "host", 22)
		result := Result{Credentials: &creds, Resource: "x"}
		resolved, err := ResolveWith(result, nil)
		Expect(err).To(Not(HaveOccurred()))
		Expect(resolved.Credentials).To(Equal(&creds))
	})

	It("substitutes the resolver's credentials", func() {
		parsed := ssh.NewAgentCredentials("root", "host", 22)
		result := Result{Credentials: &parsed, Resource: "x"}

		withKey := parsed.WithPassword("resolved-secret")
		resolved, err := ResolveWith(result, &stubResolver{creds: withKey})
		Expect(err).To(Not(HaveOccurred()))
		Expect(resolved.Credentials.Kind).To(Equal(ssh.KindPassword))
		Expect(resolved.Credentials.Password).To(Equal("resolved-secret"))
	})
})
