package ssh

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Credentials", func() {

	Context("TryParse", func() {

		It("parses user@host with an explicit port", func() {
			creds, err := TryParse("root@localhost:222", AgentAuth())
			Expect(err).To(Not(HaveOccurred()))
			Expect(creds.User).To(Equal("root"))
			Expect(creds.Host).To(Equal("localhost"))
			Expect(creds.Port).To(Equal(222))
			Expect(creds.Kind).To(Equal(KindAgent))
		})

		It("defaults to port 22 when none is given", func() {
			creds, err := TryParse("root@localhost", AgentAuth())
			Expect(err).To(Not(HaveOccurred()))
			Expect(creds.Port).To(Equal(DefaultPort))
		})

		It("rejects a string with no user@host separator", func() {
			_, err := TryParse("localhost", AgentAuth())
			Expect(err).To(HaveOccurred())
		})

		It("rejects an empty user", func() {
			_, err := TryParse("@localhost", AgentAuth())
			Expect(err).To(HaveOccurred())
		})

		It("rejects an empty host", func() {
			_, err := TryParse("root@", AgentAuth())
			Expect(err).To(HaveOccurred())
		})

		It("rejects a non-numeric port", func() {
			_, err := TryParse("root@localhost:abc", AgentAuth())
			Expect(err).To(HaveOccurred())
		})

		It("builds password credentials when given PasswordAuth", func() {
			creds, err := TryParse("root@localhost:2222", PasswordAuth("hunter2"))
			Expect(err).To(Not(HaveOccurred()))
			Expect(creds.Kind).To(Equal(KindPassword))
			Expect(creds.Password).To(Equal("hunter2"))
			Expect(creds.Port).To(Equal(2222))
		})
	})

	Context("AreSame", func() {

		It("treats two agent credentials to the same host as the same", func() {
			a := NewAgentCredentials("root", "localhost", 22)
			b := NewAgentCredentials("root", "localhost", 22)
			Expect(a.AreSame(b)).To(BeTrue())
		})

		It("treats different hosts as different", func() {
			a := NewAgentCredentials("root", "host-a", 22)
			b := NewAgentCredentials("root", "host-b", 22)
			Expect(a.AreSame(b)).To(BeFalse())
		})

		It("treats different ports as different", func() {
			a := NewAgentCredentials("root", "localhost", 22)
			b := NewAgentCredentials("root", "localhost", 2222)
			Expect(a.AreSame(b)).To(BeFalse())
		})

		It("treats matching passwords as the same", func() {
			a := NewPasswordCredentials("root", "localhost", 22, "s3cr3t")
			b := NewPasswordCredentials("root", "localhost", 22, "s3cr3t")
			Expect(a.AreSame(b)).To(BeTrue())
		})

		It("treats differing passwords as different", func() {
			a := NewPasswordCredentials("root", "localhost", 22, "s3cr3t")
			b := NewPasswordCredentials("root", "localhost", 22, "other")
			Expect(a.AreSame(b)).To(BeFalse())
		})

		It("never matches across variants even with identical host/user", func() {
			agent := NewAgentCredentials("root", "localhost", 22)
			password := NewPasswordCredentials("root", "localhost", 22, "")
			Expect(agent.AreSame(password)).To(BeFalse())
		})
	})

	Context("String", func() {
		It("renders user@host:port without leaking secrets", func() {
			creds := NewPasswordCredentials("root", "localhost", 222, "s3cr3t")
			Expect(creds.String()).To(Equal("root@localhost:222"))
		})
	})

	Context("WithPassword and WithPrivateKey", func() {
		It("switches kind without mutating the receiver", func() {
			original := NewAgentCredentials("root", "localhost", 22)
			withPw := original.WithPassword("hunter2")

			Expect(original.Kind).To(Equal(KindAgent))
			Expect(withPw.Kind).To(Equal(KindPassword))
			Expect(withPw.Password).To(Equal("hunter2"))
		})
	})
})
