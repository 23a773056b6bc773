package syscalls

// arm64 syscall numbers follow the asm-generic unistd layout. There is no
// plain open/stat family on this target; the *at forms are the only spelling.
var arm64Entries = []entry{
	{0, "io_setup"},
	{1, "io_destroy"},
	{2, "io_submit"},
	{3, "io_cancel"},
	{4, "io_getevents"},
	{17, "getcwd"},
	{19, "eventfd2"},
	{20, "epoll_create1"},
	{21, "epoll_ctl"},
	{22, "epoll_pwait"},
	{23, "dup"},
	{24, "dup3"},
	{25, "fcntl"},
	{26, "inotify_init1"},
	{27, "inotify_add_watch"},
	{28, "inotify_rm_watch"},
	{29, "ioctl"},
	{32, "flock"},
	{33, "mknodat"},
	{34, "mkdirat"},
	{35, "unlinkat"},
	{36, "symlinkat"},
	{37, "linkat"},
	{38, "renameat"},
	{39, "umount2"},
	{40, "mount"},
	{43, "statfs"},
	{44, "fstatfs"},
	{45, "truncate"},
	{46, "ftruncate"},
	{47, "fallocate"},
	{48, "faccessat"},
	{49, "chdir"},
	{50, "fchdir"},
	{51, "chroot"},
	{52, "fchmod"},
	{53, "fchmodat"},
	{54, "fchownat"},
	{55, "fchown"},
	{56, "openat"},
	{57, "close"},
	{59, "pipe2"},
	{61, "getdents64"},
	{62, "lseek"},
	{63, "read"},
	{64, "write"},
	{65, "readv"},
	{66, "writev"},
	{67, "pread64"},
	{68, "pwrite64"},
	{71, "sendfile"},
	{72, "pselect6"},
	{73, "ppoll"},
	{74, "signalfd4"},
	{78, "readlinkat"},
	{79, "newfstatat"},
	{80, "fstat"},
	{81, "sync"},
	{82, "fsync"},
	{83, "fdatasync"},
	{88, "utimensat"},
	{92, "personality"},
	{93, "exit"},
	{94, "exit_group"},
	{95, "waitid"},
	{96, "set_tid_address"},
	{98, "futex"},
	{101, "nanosleep"},
	{102, "getitimer"},
	{103, "setitimer"},
	{112, "clock_settime"},
	{113, "clock_gettime"},
	{114, "clock_getres"},
	{115, "clock_nanosleep"},
	{116, "syslog"},
	{117, "ptrace"},
	{124, "sched_yield"},
	{129, "kill"},
	{130, "tkill"},
	{131, "tgkill"},
	{132, "sigaltstack"},
	{133, "rt_sigsuspend"},
	{134, "rt_sigaction"},
	{135, "rt_sigprocmask"},
	{136, "rt_sigpending"},
	{137, "rt_sigtimedwait"},
	{138, "rt_sigqueueinfo"},
	{139, "rt_sigreturn"},
	{140, "setpriority"},
	{141, "getpriority"},
	{153, "times"},
	{154, "setpgid"},
	{155, "getpgid"},
	{156, "getsid"},
	{157, "setsid"},
	{160, "uname"},
	{163, "getrlimit"},
	{164, "setrlimit"},
	{165, "getrusage"},
	{166, "umask"},
	{167, "prctl"},
	{168, "getcpu"},
	{169, "gettimeofday"},
	{170, "settimeofday"},
	{172, "getpid"},
	{173, "getppid"},
	{174, "getuid"},
	{175, "geteuid"},
	{176, "getgid"},
	{177, "getegid"},
	{178, "gettid"},
	{179, "sysinfo"},
	{198, "socket"},
	{199, "socketpair"},
	{200, "bind"},
	{201, "listen"},
	{202, "accept"},
	{203, "connect"},
	{204, "getsockname"},
	{205, "getpeername"},
	{206, "sendto"},
	{207, "recvfrom"},
	{208, "setsockopt"},
	{209, "getsockopt"},
	{210, "shutdown"},
	{211, "sendmsg"},
	{212, "recvmsg"},
	{214, "brk"},
	{215, "munmap"},
	{216, "mremap"},
	{220, "clone"},
	{221, "execve"},
	{222, "mmap"},
	{223, "fadvise64"},
	{226, "mprotect"},
	{227, "msync"},
	{228, "mlock"},
	{229, "munlock"},
	{233, "madvise"},
	{260, "wait4"},
	{261, "prlimit64"},
	{278, "getrandom"},
	{279, "memfd_create"},
	{281, "execveat"},
	{291, "statx"},
	{434, "pidfd_open"},
	{435, "clone3"},
	{436, "close_range"},
	{437, "openat2"},
	{439, "faccessat2"},
}
